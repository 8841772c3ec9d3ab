package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"codegrade/internal/grading/executor"
	appErr "codegrade/pkg/errors"
)

func newClient(t *testing.T, baseURL string, retries int) *executor.Client {
	t.Helper()
	client, err := executor.NewClient(executor.Config{
		BaseURL:      baseURL,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestExecuteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req executor.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Environment != "python3" || req.Stdin != "2 7\n" {
			t.Errorf("request fields lost: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(executor.ExecOutcome{
			Run: &executor.PhaseResult{Stdout: "9\n", ExitCode: 0, TimeUsedMS: 12},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	outcome, err := client.Execute(context.Background(), executor.ExecRequest{
		Environment: "python3",
		Code:        "print(sum(map(int, input().split())))",
		Stdin:       "2 7\n",
	}, time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Run == nil || outcome.Run.Stdout != "9\n" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(executor.ExecOutcome{
			Run: &executor.PhaseResult{Stdout: "ok"},
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)
	outcome, err := client.Execute(context.Background(), executor.ExecRequest{Environment: "python3"}, time.Second)
	if err != nil {
		t.Fatalf("execute should survive transient 503s: %v", err)
	}
	if outcome.Run == nil || outcome.Run.Stdout != "ok" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestExecuteTimeoutYieldsTimedOutOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	outcome, err := client.Execute(context.Background(), executor.ExecRequest{Environment: "python3"}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("deadline should map to a timed-out outcome, got error %v", err)
	}
	if !outcome.TimedOut {
		t.Fatalf("expected TimedOut outcome")
	}
}

func TestExecuteRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)
	_, err := client.Execute(context.Background(), executor.ExecRequest{Environment: "python3"}, time.Second)
	if !appErr.Is(err, appErr.ExecutionRejected) {
		t.Fatalf("expected ExecutionRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("rejections must not be retried, got %d calls", calls.Load())
	}
}

func TestExecuteUnreachableSandbox(t *testing.T) {
	client := newClient(t, "http://127.0.0.1:1", 1)
	_, err := client.Execute(context.Background(), executor.ExecRequest{Environment: "python3"}, time.Second)
	if !appErr.Is(err, appErr.ExecutorUnavailable) {
		t.Fatalf("expected ExecutorUnavailable, got %v", err)
	}
}

func TestSupportsEnvironmentUsesCachedList(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/environments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls.Add(1)
		_, _ = w.Write([]byte(`{"environments":["python3","node20"]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	ctx := context.Background()

	ok, err := client.SupportsEnvironment(ctx, "python3")
	if err != nil || !ok {
		t.Fatalf("python3 should be supported: ok=%v err=%v", ok, err)
	}
	ok, err = client.SupportsEnvironment(ctx, "cobol")
	if err != nil || ok {
		t.Fatalf("cobol should not be supported: ok=%v err=%v", ok, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("environment list should be cached, got %d fetches", calls.Load())
	}
}
