package service

import (
	"context"
	"encoding/json"
	"testing"

	"codegrade/internal/common/mq"
	"codegrade/internal/grading/model"
	appErr "codegrade/pkg/errors"
)

func taskMessage(t *testing.T, submissionID string) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.GradeTask{SubmissionID: submissionID})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return &mq.Message{ID: submissionID, Body: body, MaxRetries: 3}
}

func TestConsumerGradesTask(t *testing.T) {
	exec := &fakeExecutor{handler: sumOutcome}
	fx := newGradingFixture(t, sumChallenge(2), exec)
	fx.addSubmission(t, "s1", "code")
	consumer := NewGradeConsumer(fx.service, nil)

	if err := consumer.HandleMessage(context.Background(), taskMessage(t, "s1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := fx.submissions.GetByID(context.Background(), "s1")
	if got.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestConsumerDropsMalformedTask(t *testing.T) {
	exec := &fakeExecutor{handler: sumOutcome}
	fx := newGradingFixture(t, sumChallenge(2), exec)
	consumer := NewGradeConsumer(fx.service, nil)

	msg := &mq.Message{ID: "junk", Body: []byte("not json")}
	if err := consumer.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("malformed tasks must be dropped, not requeued: %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Fatalf("malformed task must not grade anything")
	}
}

func TestConsumerRequeuesOnInfrastructureFailure(t *testing.T) {
	exec := &fakeExecutor{handler: sumOutcome}
	fx := newGradingFixture(t, sumChallenge(2), exec)
	fx.addSubmission(t, "s1", "code")
	fx.submissions.commitErr = appErr.New(appErr.StoreUnavailable)
	consumer := NewGradeConsumer(fx.service, nil)

	err := consumer.HandleMessage(context.Background(), taskMessage(t, "s1"))
	if !appErr.Is(err, appErr.StoreUnavailable) {
		t.Fatalf("infrastructure failure should requeue, got %v", err)
	}
}

func TestConsumerSwallowsTerminalFailure(t *testing.T) {
	exec := &fakeExecutor{handler: sumOutcome}
	fx := newGradingFixture(t, nil, exec)
	fx.addSubmission(t, "s1", "code")
	consumer := NewGradeConsumer(fx.service, nil)

	// Unknown challenge is terminal; retrying would never succeed.
	if err := consumer.HandleMessage(context.Background(), taskMessage(t, "s1")); err != nil {
		t.Fatalf("terminal failure must not requeue: %v", err)
	}
	got, _ := fx.submissions.GetByID(context.Background(), "s1")
	if got.Status != model.StatusFailed {
		t.Fatalf("submission should be failed, got %s", got.Status)
	}
}
