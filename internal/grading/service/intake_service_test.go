package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	challengeModel "codegrade/internal/challenge/model"
	"codegrade/internal/common/cache"
	"codegrade/internal/common/mq"
	"codegrade/internal/grading/model"
	appErr "codegrade/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []*mq.Message
	publishFn func() error
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishFn != nil {
		if err := f.publishFn(); err != nil {
			return err
		}
	}
	f.published = append(f.published, message)
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}
func (f *fakeQueue) Start() error                   { return nil }
func (f *fakeQueue) Stop() error                    { return nil }
func (f *fakeQueue) Ping(ctx context.Context) error { return nil }
func (f *fakeQueue) Close() error                   { return nil }

func (f *fakeQueue) messages() []*mq.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mq.Message(nil), f.published...)
}

func newIntakeFixture(t *testing.T, challenge *challengeModel.Challenge) (*IntakeService, *fakeSubmissionRepo, *fakeQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}

	challenges := &fakeChallengeRepo{challenges: map[string]*challengeModel.Challenge{}}
	if challenge != nil {
		challenges.challenges[challenge.ID] = challenge
	}
	submissions := newFakeSubmissionRepo()
	queue := &fakeQueue{}

	intake, err := NewIntakeService(
		challenges,
		submissions,
		&fakeExecutor{handler: sumOutcome},
		queue,
		NewCacheRateLimiter(redisCache),
		NewCacheGaugeStore(redisCache),
		IntakeConfig{
			Topic:           "grading.tasks",
			MaxCodeBytes:    128,
			RateLimitWindow: time.Minute,
			RateLimitBurst:  3,
		},
	)
	if err != nil {
		t.Fatalf("new intake service: %v", err)
	}
	return intake, submissions, queue
}

func validSubmit() SubmitRequest {
	return SubmitRequest{
		LearnerID:   "learner-1",
		ChallengeID: "sum",
		Environment: "python3",
		Code:        "print(42)",
	}
}

func TestSubmitAcceptsAndDispatches(t *testing.T) {
	intake, submissions, queue := newIntakeFixture(t, sumChallenge(2))

	submission, err := intake.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submission.Status != model.StatusPending {
		t.Fatalf("accepted submission should be pending, got %s", submission.Status)
	}
	if submission.Fingerprint == "" || submission.Version != 1 {
		t.Fatalf("submission not fully resolved: %+v", submission)
	}

	stored, err := submissions.GetByID(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("submission should be durable before dispatch: %v", err)
	}
	if stored.Fingerprint != submission.Fingerprint {
		t.Fatalf("stored fingerprint mismatch")
	}

	published := queue.messages()
	if len(published) != 1 {
		t.Fatalf("expected 1 grading task, got %d", len(published))
	}
	var task model.GradeTask
	if err := json.Unmarshal(published[0].Body, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.SubmissionID != submission.ID {
		t.Fatalf("task references wrong submission")
	}
}

func TestSubmitIdenticalPayloadsShareFingerprint(t *testing.T) {
	intake, _, _ := newIntakeFixture(t, sumChallenge(2))

	first, err := intake.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := intake.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("each submission must have its own identity")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("byte-identical payloads must share a fingerprint")
	}
}

func TestSubmitRejectsUnsupportedEnvironment(t *testing.T) {
	intake, _, queue := newIntakeFixture(t, sumChallenge(2))

	req := validSubmit()
	req.Environment = "cobol"
	_, err := intake.Submit(context.Background(), req)
	if !appErr.Is(err, appErr.EnvironmentNotFound) {
		t.Fatalf("expected EnvironmentNotFound, got %v", err)
	}
	if len(queue.messages()) != 0 {
		t.Fatalf("rejected submission must not dispatch a task")
	}
}

func TestSubmitRejectsUnpublishedChallenge(t *testing.T) {
	challenge := sumChallenge(2)
	challenge.Published = false
	intake, _, _ := newIntakeFixture(t, challenge)

	_, err := intake.Submit(context.Background(), validSubmit())
	if !appErr.Is(err, appErr.ChallengeNotPublished) {
		t.Fatalf("expected ChallengeNotPublished, got %v", err)
	}
}

func TestSubmitRejectsOversizedPayload(t *testing.T) {
	intake, _, _ := newIntakeFixture(t, sumChallenge(2))

	req := validSubmit()
	req.Code = strings.Repeat("x", 129)
	_, err := intake.Submit(context.Background(), req)
	if !appErr.Is(err, appErr.PayloadTooLarge) {
		t.Fatalf("expected PayloadTooLarge, got %v", err)
	}
}

func TestSubmitRateLimitsPerLearner(t *testing.T) {
	intake, _, _ := newIntakeFixture(t, sumChallenge(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := intake.Submit(ctx, validSubmit()); err != nil {
			t.Fatalf("submit %d within burst: %v", i, err)
		}
	}
	_, err := intake.Submit(ctx, validSubmit())
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}

	// A different learner is not throttled by the first one's burst.
	other := validSubmit()
	other.LearnerID = "learner-2"
	if _, err := intake.Submit(ctx, other); err != nil {
		t.Fatalf("other learner should not be throttled: %v", err)
	}
}

func TestSubmitSurvivesQueueOutage(t *testing.T) {
	intake, submissions, queue := newIntakeFixture(t, sumChallenge(2))
	queue.publishFn = func() error { return appErr.New(appErr.ServiceUnavailable) }

	submission, err := intake.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("intake should accept even when dispatch fails: %v", err)
	}
	if _, err := submissions.GetByID(context.Background(), submission.ID); err != nil {
		t.Fatalf("submission must still be durable: %v", err)
	}
}

func TestGetResultNotReady(t *testing.T) {
	intake, submissions, _ := newIntakeFixture(t, sumChallenge(2))

	submission, err := intake.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = intake.GetResult(context.Background(), submission.ID)
	if !appErr.Is(err, appErr.ResultNotReady) {
		t.Fatalf("expected ResultNotReady, got %v", err)
	}

	// Once committed, the result comes back.
	graded := &model.GradedResult{Fingerprint: submission.Fingerprint, Verdict: model.VerdictOK, Score: 100}
	if err := submissions.CommitResult(context.Background(), submission.ID, graded, false); err != nil {
		t.Fatalf("commit: %v", err)
	}
	result, err := intake.GetResult(context.Background(), submission.ID)
	if err != nil || result.Score != 100 {
		t.Fatalf("expected committed result, got %v %v", result, err)
	}
}
