package service

import (
	"context"
	"encoding/json"
	"time"

	challengeModel "codegrade/internal/challenge/model"
	challengeRepo "codegrade/internal/challenge/repository"
	"codegrade/internal/common/mq"
	"codegrade/internal/grading/model"
	"codegrade/internal/grading/repository"
	appErr "codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxCodeBytes    = 64 << 10
	defaultRateLimitWindow = time.Minute
	defaultRateLimitBurst  = 10
	defaultTaskMaxRetries  = 3

	rateLimitKeyPrefix = "grading:ratelimit:"
)

// IntakeConfig holds submission intake settings.
type IntakeConfig struct {
	Topic           string        `yaml:"topic"`
	MaxCodeBytes    int           `yaml:"maxCodeBytes"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
	TaskMaxRetries  int           `yaml:"taskMaxRetries"`
}

// SubmitRequest carries one learner submission.
type SubmitRequest struct {
	LearnerID   string
	ChallengeID string
	Version     int64
	Environment string
	Code        string
}

// IntakeService accepts submissions, persists them as pending, and
// dispatches grading tasks to the queue.
type IntakeService struct {
	challenges  challengeRepo.ChallengeRepository
	submissions repository.SubmissionRepository
	executor    Executor
	queue       mq.MessageQueue
	limiter     RateLimiter
	gauges      GaugeStore

	topic           string
	maxCodeBytes    int
	rateLimitWindow time.Duration
	rateLimitBurst  int
	taskMaxRetries  int
}

// NewIntakeService creates the intake service.
func NewIntakeService(
	challenges challengeRepo.ChallengeRepository,
	submissions repository.SubmissionRepository,
	exec Executor,
	queue mq.MessageQueue,
	limiter RateLimiter,
	gauges GaugeStore,
	cfg IntakeConfig,
) (*IntakeService, error) {
	if challenges == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("challenge repository is required")
	}
	if submissions == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission repository is required")
	}
	if exec == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("executor is required")
	}
	if queue == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("message queue is required")
	}
	if cfg.Topic == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("grading topic is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.TaskMaxRetries <= 0 {
		cfg.TaskMaxRetries = defaultTaskMaxRetries
	}
	return &IntakeService{
		challenges:      challenges,
		submissions:     submissions,
		executor:        exec,
		queue:           queue,
		limiter:         limiter,
		gauges:          gauges,
		topic:           cfg.Topic,
		maxCodeBytes:    cfg.MaxCodeBytes,
		rateLimitWindow: cfg.RateLimitWindow,
		rateLimitBurst:  cfg.RateLimitBurst,
		taskMaxRetries:  cfg.TaskMaxRetries,
	}, nil
}

// Submit validates and accepts one submission. The submission is durable
// before the grading task is published, so a lost task can be re-enqueued
// without losing the learner's attempt.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	if req.LearnerID == "" {
		return nil, appErr.ValidationError("learner_id", "required")
	}
	if req.ChallengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	if req.Environment == "" {
		return nil, appErr.ValidationError("environment", "required")
	}
	if req.Code == "" {
		return nil, appErr.ValidationError("code", "required")
	}
	if len(req.Code) > s.maxCodeBytes {
		return nil, appErr.New(appErr.PayloadTooLarge).
			WithDetail("max_bytes", s.maxCodeBytes).
			WithDetail("got_bytes", len(req.Code))
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, rateLimitKeyPrefix+req.LearnerID, s.rateLimitBurst, s.rateLimitWindow)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable, letting submission through", zap.Error(err))
		} else if !allowed {
			return nil, appErr.New(appErr.SubmitTooFrequently).
				WithDetail("window", s.rateLimitWindow.String())
		}
	}

	challenge, err := s.resolveChallenge(ctx, req)
	if err != nil {
		return nil, err
	}
	if !challenge.Published {
		return nil, appErr.New(appErr.ChallengeNotPublished).
			WithDetail("challenge_id", challenge.ID).
			WithDetail("version", challenge.Version)
	}

	supported, err := s.executor.SupportsEnvironment(ctx, req.Environment)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, appErr.New(appErr.EnvironmentNotFound).
			WithDetail("environment", req.Environment)
	}

	now := time.Now().UTC()
	submission := &model.Submission{
		ID:          uuid.NewString(),
		LearnerID:   req.LearnerID,
		ChallengeID: challenge.ID,
		Version:     challenge.Version,
		Environment: req.Environment,
		Code:        req.Code,
		Fingerprint: model.Fingerprint(challenge.ID, challenge.Version, req.Environment, req.Code),
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		return nil, err
	}

	if err := s.publishTask(ctx, submission.ID); err != nil {
		// The pending row survives; a sweep or manual requeue can recover
		// it, so intake still reports success with the submission id.
		logger.Error(ctx, "grading task publish failed",
			zap.String("submission_id", submission.ID), zap.Error(err))
		return submission, nil
	}
	if s.gauges != nil {
		s.gauges.IncrWaiting(ctx)
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submission.ID),
		zap.String("challenge_id", challenge.ID),
		zap.Int64("version", challenge.Version),
		zap.String("environment", req.Environment))
	return submission, nil
}

func (s *IntakeService) resolveChallenge(ctx context.Context, req SubmitRequest) (*challengeModel.Challenge, error) {
	if req.Version > 0 {
		return s.challenges.Get(ctx, req.ChallengeID, req.Version)
	}
	return s.challenges.GetLatest(ctx, req.ChallengeID)
}

// GetSubmission returns a submission by id.
func (s *IntakeService) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	return s.submissions.GetByID(ctx, submissionID)
}

// GetResult returns the graded result for a submission, or ResultNotReady
// while grading is still in flight.
func (s *IntakeService) GetResult(ctx context.Context, submissionID string) (*model.GradedResult, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status == model.StatusFailed {
		return nil, appErr.New(appErr.GradingSystemError).
			WithDetail("submission_id", submissionID)
	}
	if submission.Status != model.StatusCompleted {
		return nil, appErr.New(appErr.ResultNotReady).
			WithDetail("submission_id", submissionID).
			WithDetail("status", string(submission.Status))
	}
	return s.submissions.GetResult(ctx, submissionID)
}

// ListSubmissions returns a learner's submissions for a challenge.
func (s *IntakeService) ListSubmissions(ctx context.Context, challengeID, learnerID string, limit int) ([]*model.Submission, error) {
	return s.submissions.ListByChallenge(ctx, challengeID, learnerID, limit)
}

// QueueStatus reports current grading backlog.
func (s *IntakeService) QueueStatus(ctx context.Context) (QueueStatus, error) {
	if s.gauges == nil {
		return QueueStatus{}, nil
	}
	return s.gauges.Snapshot(ctx)
}

func (s *IntakeService) publishTask(ctx context.Context, submissionID string) error {
	task := model.GradeTask{SubmissionID: submissionID}
	body, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrap(err, appErr.InternalServerError)
	}
	return s.queue.Publish(ctx, s.topic, &mq.Message{
		ID:         submissionID,
		Body:       body,
		Timestamp:  time.Now(),
		MaxRetries: s.taskMaxRetries,
	})
}
