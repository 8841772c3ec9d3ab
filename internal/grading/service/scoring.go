package service

import (
	"time"

	challengeModel "codegrade/internal/challenge/model"
	"codegrade/internal/grading/model"
)

// aggregate folds per-test execution results into a graded result under
// the challenge's scoring policy.
//
// The overall verdict is "ok" when every test passed; otherwise it is the
// verdict of the first failing test in ordinal order, which is the most
// actionable failure to surface to a learner.
func aggregate(fingerprint string, policy challengeModel.ScoringPolicy, tests []model.ExecutionResult) *model.GradedResult {
	result := &model.GradedResult{
		Fingerprint: fingerprint,
		Verdict:     model.VerdictOK,
		TotalTests:  len(tests),
		Tests:       tests,
		GradedAt:    time.Now().UTC(),
	}

	totalWeight := 0
	passedWeight := 0
	for _, test := range tests {
		totalWeight += test.Weight
		if test.Verdict.Passed() {
			result.PassedTests++
			passedWeight += test.Weight
		} else if result.Verdict == model.VerdictOK {
			result.Verdict = test.Verdict
		}
	}

	switch policy {
	case challengeModel.ScoringWeightedPartial:
		if totalWeight > 0 {
			result.Score = float64(passedWeight) / float64(totalWeight) * 100
		}
	default:
		// all_or_nothing
		if result.PassedTests == result.TotalTests && result.TotalTests > 0 {
			result.Score = 100
		}
	}
	return result
}

// compileFailure builds the terminal result for a submission whose build
// phase failed. No test cases run; every test is marked as a compilation
// error so the breakdown still covers the full set.
func compileFailure(fingerprint string, challenge *challengeModel.Challenge, compile *model.ExecutionResult) *model.GradedResult {
	tests := make([]model.ExecutionResult, 0, len(challenge.TestCases))
	for _, tc := range challenge.TestCases {
		test := model.ExecutionResult{
			TestOrdinal: tc.Ordinal,
			Verdict:     model.VerdictCompilationError,
			Weight:      tc.Weight,
		}
		if compile != nil {
			test.ExitCode = compile.ExitCode
			test.Stderr = compile.Stderr
		}
		tests = append(tests, test)
	}
	return aggregate(fingerprint, challenge.ScoringPolicy, tests)
}
