package controller

import (
	"strconv"

	"codegrade/internal/grading/service"
	"codegrade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GradingController handles submission and grading HTTP endpoints.
type GradingController struct {
	intake *service.IntakeService
}

// NewGradingController creates a new GradingController.
func NewGradingController(intake *service.IntakeService) *GradingController {
	return &GradingController{intake: intake}
}

// Submit accepts a submission for a challenge.
func (h *GradingController) Submit(c *gin.Context) {
	challengeID := c.Param("id")
	if challengeID == "" {
		response.BadRequest(c, "Invalid challenge id")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.intake.Submit(c.Request.Context(), service.SubmitRequest{
		LearnerID:   req.LearnerID,
		ChallengeID: challengeID,
		Version:     req.Version,
		Environment: req.Environment,
		Code:        req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, SubmitResponse{
		SubmissionID: submission.ID,
		ChallengeID:  submission.ChallengeID,
		Version:      submission.Version,
		Status:       string(submission.Status),
		CreatedAt:    submission.CreatedAt.Unix(),
	})
}

// GetSubmission returns one submission.
func (h *GradingController) GetSubmission(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.intake.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionView(submission))
}

// GetResult returns the graded result for a submission. While grading is
// still in flight the error path yields 202 with a result-not-ready code.
func (h *GradingController) GetResult(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	result, err := h.intake.GetResult(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toResultView(submissionID, result))
}

// ListSubmissions returns a learner's submissions for a challenge.
func (h *GradingController) ListSubmissions(c *gin.Context) {
	challengeID := c.Param("id")
	learnerID := c.Query("learner_id")
	if challengeID == "" || learnerID == "" {
		response.BadRequest(c, "challenge id and learner_id are required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	submissions, err := h.intake.ListSubmissions(c.Request.Context(), challengeID, learnerID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, toSubmissionView(submission))
	}
	response.Success(c, ListSubmissionsResponse{Items: items})
}

// QueueStatus reports grading backlog gauges.
func (h *GradingController) QueueStatus(c *gin.Context) {
	status, err := h.intake.QueueStatus(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}
