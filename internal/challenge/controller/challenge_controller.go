package controller

import (
	"strconv"

	"codegrade/internal/challenge/model"
	"codegrade/internal/challenge/service"
	"codegrade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ChallengeController handles challenge authoring and lookup endpoints.
type ChallengeController struct {
	challengeService *service.ChallengeService
}

// NewChallengeController creates a new ChallengeController.
func NewChallengeController(challengeService *service.ChallengeService) *ChallengeController {
	return &ChallengeController{challengeService: challengeService}
}

// Create publishes a new challenge version.
func (h *ChallengeController) Create(c *gin.Context) {
	var req CreateChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	challenge, err := h.challengeService.Create(c.Request.Context(), req.toModel())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ChallengeSummary{
		ChallengeID:   challenge.ID,
		Version:       challenge.Version,
		Title:         challenge.Title,
		Published:     challenge.Published,
		ScoringPolicy: string(challenge.ScoringPolicy),
		TestCases:     len(challenge.TestCases),
	})
}

// Get returns the latest version of a challenge.
func (h *ChallengeController) Get(c *gin.Context) {
	h.get(c, 0)
}

// GetVersion returns one specific challenge version.
func (h *ChallengeController) GetVersion(c *gin.Context) {
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version <= 0 {
		response.BadRequest(c, "Invalid challenge version")
		return
	}
	h.get(c, version)
}

func (h *ChallengeController) get(c *gin.Context, version int64) {
	challengeID := c.Param("id")
	if challengeID == "" {
		response.BadRequest(c, "Invalid challenge id")
		return
	}
	challenge, err := h.challengeService.Get(c.Request.Context(), challengeID, version)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toChallengeView(challenge))
}

// CreateChallengeRequest defines the challenge authoring payload.
type CreateChallengeRequest struct {
	ChallengeID   string              `json:"challenge_id" binding:"required"`
	Title         string              `json:"title" binding:"required"`
	Description   string              `json:"description"`
	Published     bool                `json:"published"`
	ScoringPolicy string              `json:"scoring_policy" binding:"required"`
	TimeLimitMS   int64               `json:"time_limit_ms"`
	MemoryLimitKB int64               `json:"memory_limit_kb"`
	TestCases     []TestCasePayload   `json:"test_cases" binding:"required"`
}

// TestCasePayload defines one test case in the authoring payload.
type TestCasePayload struct {
	Input         string `json:"input"`
	Expected      string `json:"expected"`
	InputKey      string `json:"input_key"`
	ExpectedKey   string `json:"expected_key"`
	Weight        int    `json:"weight"`
	TimeLimitMS   int64  `json:"time_limit_ms"`
	MemoryLimitKB int64  `json:"memory_limit_kb"`
}

func (r CreateChallengeRequest) toModel() *model.Challenge {
	challenge := &model.Challenge{
		ID:            r.ChallengeID,
		Title:         r.Title,
		Description:   r.Description,
		Published:     r.Published,
		ScoringPolicy: model.ScoringPolicy(r.ScoringPolicy),
		DefaultLimits: model.ResourceLimits{
			TimeLimitMS:   r.TimeLimitMS,
			MemoryLimitKB: r.MemoryLimitKB,
		},
	}
	for _, tc := range r.TestCases {
		weight := tc.Weight
		if weight == 0 {
			weight = 1
		}
		challenge.TestCases = append(challenge.TestCases, model.TestCase{
			Input:       tc.Input,
			Expected:    tc.Expected,
			InputKey:    tc.InputKey,
			ExpectedKey: tc.ExpectedKey,
			Weight:      weight,
			Limits: model.ResourceLimits{
				TimeLimitMS:   tc.TimeLimitMS,
				MemoryLimitKB: tc.MemoryLimitKB,
			},
		})
	}
	return challenge
}

// ChallengeSummary is the creation response payload.
type ChallengeSummary struct {
	ChallengeID   string `json:"challenge_id"`
	Version       int64  `json:"version"`
	Title         string `json:"title"`
	Published     bool   `json:"published"`
	ScoringPolicy string `json:"scoring_policy"`
	TestCases     int    `json:"test_cases"`
}

// TestCaseView hides expected outputs; learners only see shape and limits.
type TestCaseView struct {
	Ordinal       int   `json:"ordinal"`
	Weight        int   `json:"weight"`
	TimeLimitMS   int64 `json:"time_limit_ms"`
	MemoryLimitKB int64 `json:"memory_limit_kb"`
}

// ChallengeView is the challenge lookup payload.
type ChallengeView struct {
	ChallengeID   string         `json:"challenge_id"`
	Version       int64          `json:"version"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Published     bool           `json:"published"`
	ScoringPolicy string         `json:"scoring_policy"`
	TestCases     []TestCaseView `json:"test_cases"`
	CreatedAt     int64          `json:"created_at"`
}

func toChallengeView(challenge *model.Challenge) ChallengeView {
	view := ChallengeView{
		ChallengeID:   challenge.ID,
		Version:       challenge.Version,
		Title:         challenge.Title,
		Description:   challenge.Description,
		Published:     challenge.Published,
		ScoringPolicy: string(challenge.ScoringPolicy),
		CreatedAt:     challenge.CreatedAt.Unix(),
	}
	for _, tc := range challenge.TestCases {
		limits := challenge.LimitsFor(tc)
		view.TestCases = append(view.TestCases, TestCaseView{
			Ordinal:       tc.Ordinal,
			Weight:        tc.Weight,
			TimeLimitMS:   limits.TimeLimitMS,
			MemoryLimitKB: limits.MemoryLimitKB,
		})
	}
	return view
}
