package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	appErr "codegrade/pkg/errors"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := appErr.New(appErr.ChallengeNotFound)
	if !appErr.Is(err, appErr.ChallengeNotFound) {
		t.Fatalf("code lost")
	}
	if err.Error() == "" {
		t.Fatalf("expected default message")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := appErr.Wrap(cause, appErr.StoreUnavailable)
	if appErr.GetCode(err) != appErr.StoreUnavailable {
		t.Fatalf("expected StoreUnavailable, got %d", appErr.GetCode(err))
	}
	if err.Unwrap() != cause {
		t.Fatalf("cause lost in wrap")
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	if appErr.GetCode(fmt.Errorf("plain")) != appErr.InternalServerError {
		t.Fatalf("foreign errors should map to InternalServerError")
	}
	if appErr.GetCode(nil) != appErr.Success {
		t.Fatalf("nil should map to Success")
	}
}

func TestWithDetailAccumulates(t *testing.T) {
	err := appErr.New(appErr.SubmissionNotFound).
		WithDetail("submission_id", "s1").
		WithDetail("learner_id", "l1")
	if err.Details["submission_id"] != "s1" || err.Details["learner_id"] != "l1" {
		t.Fatalf("details lost: %v", err.Details)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[appErr.ErrorCode]int{
		appErr.Success:             http.StatusOK,
		appErr.InvalidParams:       http.StatusBadRequest,
		appErr.ChallengeNotFound:   http.StatusNotFound,
		appErr.SubmissionNotFound:  http.StatusNotFound,
		appErr.ResultNotReady:      http.StatusAccepted,
		appErr.SubmitTooFrequently: http.StatusTooManyRequests,
		appErr.StoreUnavailable:    http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("code %d: expected status %d, got %d", code, want, got)
		}
	}
}

func TestIsInfrastructure(t *testing.T) {
	if !appErr.IsInfrastructure(appErr.New(appErr.StoreUnavailable)) {
		t.Fatalf("StoreUnavailable is infrastructure")
	}
	if !appErr.IsInfrastructure(appErr.New(appErr.ExecutorUnavailable)) {
		t.Fatalf("ExecutorUnavailable is infrastructure")
	}
	if appErr.IsInfrastructure(appErr.New(appErr.ChallengeNotFound)) {
		t.Fatalf("ChallengeNotFound is not infrastructure")
	}
	if appErr.IsInfrastructure(nil) {
		t.Fatalf("nil is not infrastructure")
	}
}

func TestValidationError(t *testing.T) {
	err := appErr.ValidationError("environment", "required")
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed")
	}
	if err.Details["field"] != "environment" {
		t.Fatalf("field detail missing")
	}
}
