package model

import "time"

// Verdict classifies one execution outcome.
type Verdict string

const (
	VerdictOK                  Verdict = "ok"
	VerdictWrongAnswer         Verdict = "wrong_answer"
	VerdictTimeLimitExceeded   Verdict = "time_limit_exceeded"
	VerdictMemoryLimitExceeded Verdict = "memory_limit_exceeded"
	VerdictRuntimeError        Verdict = "runtime_error"
	VerdictNoOutput            Verdict = "no_output"
	VerdictCompilationError    Verdict = "compilation_error"
	VerdictSandboxError        Verdict = "sandbox_error"
)

// Passed reports whether the verdict counts toward the score.
func (v Verdict) Passed() bool {
	return v == VerdictOK
}

// ExecutionResult is the outcome of one test case run.
// Owned by exactly one submission, never shared.
type ExecutionResult struct {
	TestOrdinal  int     `json:"test_ordinal"`
	Verdict      Verdict `json:"verdict"`
	ExitCode     int     `json:"exit_code"`
	Stdout       string  `json:"stdout,omitempty"`
	Stderr       string  `json:"stderr,omitempty"`
	TimeUsedMS   int64   `json:"time_used_ms"`
	MemoryUsedKB int64   `json:"memory_used_kb"`
	Weight       int     `json:"weight"`
}

// GradedResult is the terminal aggregate over a submission's execution
// results. Written exactly once per submission and immutable thereafter.
// It is addressed by fingerprint in the result cache, so it carries no
// submission identity of its own.
type GradedResult struct {
	Fingerprint string            `json:"fingerprint"`
	Verdict     Verdict           `json:"verdict"`
	// Score is a percentage in [0, 100].
	Score       float64           `json:"score"`
	PassedTests int               `json:"passed_tests"`
	TotalTests  int               `json:"total_tests"`
	Tests       []ExecutionResult `json:"tests"`
	GradedAt    time.Time         `json:"graded_at"`
}

// GradeTask is the queue message that drives one grading attempt.
type GradeTask struct {
	SubmissionID string `json:"submission_id"`
	Attempt      int    `json:"attempt"`
}
