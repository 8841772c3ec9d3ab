package service

import (
	"testing"

	challengeModel "codegrade/internal/challenge/model"
	"codegrade/internal/grading/model"
)

func testRuns(verdicts ...model.Verdict) []model.ExecutionResult {
	tests := make([]model.ExecutionResult, len(verdicts))
	for i, v := range verdicts {
		tests[i] = model.ExecutionResult{TestOrdinal: i, Verdict: v, Weight: 1}
	}
	return tests
}

func TestAggregateAllOrNothingFullPass(t *testing.T) {
	result := aggregate("fp", challengeModel.ScoringAllOrNothing,
		testRuns(model.VerdictOK, model.VerdictOK, model.VerdictOK))

	if result.Verdict != model.VerdictOK {
		t.Fatalf("expected ok verdict, got %s", result.Verdict)
	}
	if result.Score != 100 {
		t.Fatalf("expected score 100, got %v", result.Score)
	}
	if result.PassedTests != 3 || result.TotalTests != 3 {
		t.Fatalf("unexpected pass counts: %d/%d", result.PassedTests, result.TotalTests)
	}
}

func TestAggregateAllOrNothingOneFailureZeroes(t *testing.T) {
	result := aggregate("fp", challengeModel.ScoringAllOrNothing,
		testRuns(model.VerdictOK, model.VerdictWrongAnswer, model.VerdictOK))

	if result.Score != 0 {
		t.Fatalf("all_or_nothing with a failure must score 0, got %v", result.Score)
	}
	if result.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("expected first failing verdict, got %s", result.Verdict)
	}
}

func TestAggregateWeightedPartial(t *testing.T) {
	// 3 of 5 equally weighted tests pass.
	result := aggregate("fp", challengeModel.ScoringWeightedPartial,
		testRuns(model.VerdictOK, model.VerdictOK, model.VerdictOK,
			model.VerdictTimeLimitExceeded, model.VerdictRuntimeError))

	if result.Score != 60 {
		t.Fatalf("expected score 60, got %v", result.Score)
	}
	if result.PassedTests != 3 {
		t.Fatalf("expected 3 passed tests, got %d", result.PassedTests)
	}
	if result.Verdict != model.VerdictTimeLimitExceeded {
		t.Fatalf("expected first failing verdict, got %s", result.Verdict)
	}
}

func TestAggregateWeightedPartialUnevenWeights(t *testing.T) {
	tests := []model.ExecutionResult{
		{TestOrdinal: 0, Verdict: model.VerdictOK, Weight: 1},
		{TestOrdinal: 1, Verdict: model.VerdictOK, Weight: 3},
		{TestOrdinal: 2, Verdict: model.VerdictWrongAnswer, Weight: 4},
	}
	result := aggregate("fp", challengeModel.ScoringWeightedPartial, tests)
	if result.Score != 50 {
		t.Fatalf("expected score 50, got %v", result.Score)
	}
}

func TestCompileFailureCoversAllTests(t *testing.T) {
	challenge := &challengeModel.Challenge{
		ID:            "c1",
		ScoringPolicy: challengeModel.ScoringWeightedPartial,
		TestCases: []challengeModel.TestCase{
			{Ordinal: 0, Weight: 1},
			{Ordinal: 1, Weight: 2},
		},
	}
	compile := &model.ExecutionResult{ExitCode: 1, Stderr: "syntax error"}
	result := compileFailure("fp", challenge, compile)

	if result.Verdict != model.VerdictCompilationError {
		t.Fatalf("expected compilation_error, got %s", result.Verdict)
	}
	if result.Score != 0 || result.PassedTests != 0 {
		t.Fatalf("compile failure must score 0")
	}
	if len(result.Tests) != 2 {
		t.Fatalf("expected breakdown over all tests, got %d", len(result.Tests))
	}
	for _, test := range result.Tests {
		if test.Verdict != model.VerdictCompilationError {
			t.Fatalf("every test should carry compilation_error, got %s", test.Verdict)
		}
		if test.Stderr != "syntax error" {
			t.Fatalf("compile stderr should propagate")
		}
	}
}

func TestNormalizeOutputIgnoresTrailingWhitespace(t *testing.T) {
	if !outputMatches("1 2 3  \n", "1 2 3") {
		t.Fatalf("trailing whitespace should not fail a comparison")
	}
	if !outputMatches("a\r\nb\r\n", "a\nb") {
		t.Fatalf("CRLF output should match LF expectation")
	}
	if outputMatches("1 2 4", "1 2 3") {
		t.Fatalf("different output must not match")
	}
}
