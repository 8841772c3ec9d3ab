package model

import (
	"time"

	appErr "codegrade/pkg/errors"
)

// ScoringPolicy selects how per-test outcomes aggregate into a score.
type ScoringPolicy string

const (
	// ScoringAllOrNothing yields full score only when every test passes.
	ScoringAllOrNothing ScoringPolicy = "all_or_nothing"
	// ScoringWeightedPartial yields the passed weight share of the total.
	ScoringWeightedPartial ScoringPolicy = "weighted_partial"
)

// Valid reports whether the policy is one of the supported strategies.
func (p ScoringPolicy) Valid() bool {
	switch p {
	case ScoringAllOrNothing, ScoringWeightedPartial:
		return true
	}
	return false
}

// ResourceLimits bounds one sandbox execution.
type ResourceLimits struct {
	TimeLimitMS   int64 `json:"time_limit_ms" yaml:"timeLimitMS"`
	MemoryLimitKB int64 `json:"memory_limit_kb" yaml:"memoryLimitKB"`
}

// Merge fills zero fields from defaults.
func (l ResourceLimits) Merge(defaults ResourceLimits) ResourceLimits {
	out := l
	if out.TimeLimitMS <= 0 {
		out.TimeLimitMS = defaults.TimeLimitMS
	}
	if out.MemoryLimitKB <= 0 {
		out.MemoryLimitKB = defaults.MemoryLimitKB
	}
	return out
}

// TestCase is one input/expected-output pair within a challenge version.
// Large fixtures may live in object storage; InputKey/ExpectedKey take
// precedence over the inline columns when set.
type TestCase struct {
	ID          int64          `json:"id"`
	Ordinal     int            `json:"ordinal"`
	Input       string         `json:"input"`
	Expected    string         `json:"expected"`
	InputKey    string         `json:"input_key,omitempty"`
	ExpectedKey string         `json:"expected_key,omitempty"`
	Weight      int            `json:"weight"`
	Limits      ResourceLimits `json:"limits"`
}

// Challenge is one published, immutable version of a challenge definition.
// Edits never mutate a published version; they create the next version so
// fingerprints computed against older versions stay valid.
type Challenge struct {
	ID            string         `json:"id"`
	Version       int64          `json:"version"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Published     bool           `json:"published"`
	ScoringPolicy ScoringPolicy  `json:"scoring_policy"`
	DefaultLimits ResourceLimits `json:"default_limits"`
	TestCases     []TestCase     `json:"test_cases"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Validate checks structural invariants before a version is persisted.
func (c *Challenge) Validate() error {
	if c.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if c.Title == "" {
		return appErr.ValidationError("title", "required")
	}
	if !c.ScoringPolicy.Valid() {
		return appErr.New(appErr.ScoringPolicyInvalid).
			WithDetail("policy", string(c.ScoringPolicy))
	}
	if len(c.TestCases) == 0 {
		return appErr.New(appErr.TestCaseInvalid).WithMessage("challenge has no test cases")
	}
	for i, tc := range c.TestCases {
		if tc.Input == "" && tc.InputKey == "" {
			return appErr.Newf(appErr.TestCaseInvalid, "test case %d has no input", i)
		}
		if tc.Expected == "" && tc.ExpectedKey == "" {
			return appErr.Newf(appErr.TestCaseInvalid, "test case %d has no expected output", i)
		}
		if tc.Weight <= 0 {
			return appErr.Newf(appErr.TestCaseInvalid, "test case %d has non-positive weight", i)
		}
	}
	return nil
}

// TotalWeight sums test case weights.
func (c *Challenge) TotalWeight() int {
	total := 0
	for _, tc := range c.TestCases {
		total += tc.Weight
	}
	return total
}

// LimitsFor resolves effective limits for one test case.
func (c *Challenge) LimitsFor(tc TestCase) ResourceLimits {
	return tc.Limits.Merge(c.DefaultLimits)
}
