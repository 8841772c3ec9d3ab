package controller

import (
	"codegrade/internal/grading/model"
)

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	LearnerID   string `json:"learner_id" binding:"required"`
	Version     int64  `json:"version"`
	Environment string `json:"environment" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// SubmitResponse defines the submission acceptance payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	ChallengeID  string `json:"challenge_id"`
	Version      int64  `json:"version"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
}

// SubmissionView is the external shape of a submission. Source code is
// not echoed back on status reads.
type SubmissionView struct {
	SubmissionID string `json:"submission_id"`
	LearnerID    string `json:"learner_id"`
	ChallengeID  string `json:"challenge_id"`
	Version      int64  `json:"version"`
	Environment  string `json:"environment"`
	Status       string `json:"status"`
	FromCache    bool   `json:"from_cache"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// ListSubmissionsResponse wraps a submission listing.
type ListSubmissionsResponse struct {
	Items []SubmissionView `json:"items"`
}

// TestResultView is one test case outcome in a result payload.
type TestResultView struct {
	TestOrdinal  int    `json:"test_ordinal"`
	Verdict      string `json:"verdict"`
	ExitCode     int    `json:"exit_code"`
	Stderr       string `json:"stderr,omitempty"`
	TimeUsedMS   int64  `json:"time_used_ms"`
	MemoryUsedKB int64  `json:"memory_used_kb"`
	Weight       int    `json:"weight"`
}

// ResultView is the graded result payload.
type ResultView struct {
	SubmissionID string           `json:"submission_id"`
	Verdict      string           `json:"verdict"`
	Score        float64          `json:"score"`
	PassedTests  int              `json:"passed_tests"`
	TotalTests   int              `json:"total_tests"`
	Tests        []TestResultView `json:"tests"`
	GradedAt     int64            `json:"graded_at"`
}

func toSubmissionView(submission *model.Submission) SubmissionView {
	return SubmissionView{
		SubmissionID: submission.ID,
		LearnerID:    submission.LearnerID,
		ChallengeID:  submission.ChallengeID,
		Version:      submission.Version,
		Environment:  submission.Environment,
		Status:       string(submission.Status),
		FromCache:    submission.FromCache,
		CreatedAt:    submission.CreatedAt.Unix(),
		UpdatedAt:    submission.UpdatedAt.Unix(),
	}
}

func toResultView(submissionID string, result *model.GradedResult) ResultView {
	tests := make([]TestResultView, 0, len(result.Tests))
	for _, test := range result.Tests {
		tests = append(tests, TestResultView{
			TestOrdinal:  test.TestOrdinal,
			Verdict:      string(test.Verdict),
			ExitCode:     test.ExitCode,
			Stderr:       test.Stderr,
			TimeUsedMS:   test.TimeUsedMS,
			MemoryUsedKB: test.MemoryUsedKB,
			Weight:       test.Weight,
		})
	}
	return ResultView{
		SubmissionID: submissionID,
		Verdict:      string(result.Verdict),
		Score:        result.Score,
		PassedTests:  result.PassedTests,
		TotalTests:   result.TotalTests,
		Tests:        tests,
		GradedAt:     result.GradedAt.Unix(),
	}
}
