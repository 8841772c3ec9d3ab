// Package service implements submission intake and the grading pipeline:
// fingerprinting, result cache reuse, single-flight claims, sandbox
// execution fan-out, scoring, and transactional result commits.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	challengeModel "codegrade/internal/challenge/model"
	challengeRepo "codegrade/internal/challenge/repository"
	"codegrade/internal/grading/executor"
	"codegrade/internal/grading/model"
	"codegrade/internal/grading/repository"
	"codegrade/internal/grading/resultcache"
	appErr "codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// sandboxOverhead pads the per-test wall clock limit to absorb
	// compilation and transport time on top of the run limit.
	sandboxOverhead = 15 * time.Second

	gaugeActiveKey = "grading:gauge:active"
	gaugeTTL       = time.Hour
)

// Executor abstracts the sandbox client so tests can substitute fakes.
type Executor interface {
	Execute(ctx context.Context, req executor.ExecRequest, timeout time.Duration) (executor.ExecOutcome, error)
	SupportsEnvironment(ctx context.Context, environment string) (bool, error)
}

// GradingConfig holds grading pipeline settings.
type GradingConfig struct {
	// MaxConcurrentTests caps parallel sandbox runs per submission.
	MaxConcurrentTests int `yaml:"maxConcurrentTests"`

	// ClaimWait bounds how long a loser waits on another worker's claim
	// before racing for it again.
	ClaimWait time.Duration `yaml:"claimWait"`
}

// GradingService grades submissions. It is safe for concurrent use and
// deduplicates identical work both in-process (singleflight) and across
// workers (fingerprint claims in the result cache).
type GradingService struct {
	challenges  challengeRepo.ChallengeRepository
	submissions repository.SubmissionRepository
	executor    Executor
	results     *resultcache.ResultCache
	gauges      GaugeStore

	group              singleflight.Group
	maxConcurrentTests int
	claimWait          time.Duration
}

// NewGradingService creates the grading orchestrator.
func NewGradingService(
	challenges challengeRepo.ChallengeRepository,
	submissions repository.SubmissionRepository,
	exec Executor,
	results *resultcache.ResultCache,
	gauges GaugeStore,
	cfg GradingConfig,
) (*GradingService, error) {
	if challenges == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("challenge repository is required")
	}
	if submissions == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission repository is required")
	}
	if exec == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("executor is required")
	}
	if results == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("result cache is required")
	}
	if cfg.MaxConcurrentTests <= 0 {
		cfg.MaxConcurrentTests = 4
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 2 * time.Minute
	}
	return &GradingService{
		challenges:         challenges,
		submissions:        submissions,
		executor:           exec,
		results:            results,
		gauges:             gauges,
		maxConcurrentTests: cfg.MaxConcurrentTests,
		claimWait:          cfg.ClaimWait,
	}, nil
}

// resolved is the outcome of resolveResult: where the result came from and
// which submission, if any, was already committed by the claim holder.
type resolved struct {
	result      *model.GradedResult
	fromCache   bool
	committedID string
}

// Grade drives one submission to a terminal state. It is idempotent:
// an already completed submission returns its persisted result without
// side effects. Infrastructure failures leave the submission pending so a
// redelivered task can retry; grading-content failures mark it failed.
func (s *GradingService) Grade(ctx context.Context, submissionID string) (*model.GradedResult, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status == model.StatusCompleted {
		return s.submissions.GetResult(ctx, submissionID)
	}
	if submission.Status == model.StatusFailed {
		return nil, appErr.Newf(appErr.GradingSystemError, "submission %s already failed", submissionID)
	}

	if s.gauges != nil {
		s.gauges.IncrActive(ctx)
		defer s.gauges.DecrActive(ctx)
	}

	challenge, err := s.challenges.Get(ctx, submission.ChallengeID, submission.Version)
	if err != nil {
		if !appErr.IsInfrastructure(err) {
			s.markFailed(ctx, submission)
		}
		return nil, err
	}

	if submission.Status == model.StatusPending {
		if err := s.submissions.TransitionStatus(ctx, submissionID, model.StatusPending, model.StatusRunning); err != nil {
			if appErr.IsInfrastructure(err) {
				return nil, err
			}
			// Another worker claimed the row first; the commit below is
			// idempotent so proceeding is harmless.
			logger.Debug(ctx, "submission already claimed by another worker",
				zap.String("submission_id", submissionID))
		}
	}
	if err := s.submissions.IncrementAttempts(ctx, submissionID); err != nil {
		logger.Warn(ctx, "increment attempts failed", zap.Error(err))
	}

	fingerprint := submission.Fingerprint
	if fingerprint == "" {
		fingerprint = model.Fingerprint(submission.ChallengeID, submission.Version, submission.Environment, submission.Code)
	}

	r, err := s.resolveResult(ctx, submission, challenge, fingerprint)
	if err != nil {
		if appErr.IsInfrastructure(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Make the task redeliverable.
			_ = s.submissions.TransitionStatus(ctx, submissionID, model.StatusRunning, model.StatusPending)
			return nil, err
		}
		s.markFailed(ctx, submission)
		return nil, err
	}

	if r.committedID == submissionID {
		return r.result, nil
	}
	if err := s.commit(ctx, submissionID, r.result, true); err != nil {
		return nil, err
	}
	return r.result, nil
}

// resolveResult obtains the graded result for a fingerprint, computing it
// at most once system-wide. In-process duplicates collapse through
// singleflight; cross-worker duplicates collapse through the claim
// protocol.
func (s *GradingService) resolveResult(ctx context.Context, submission *model.Submission, challenge *challengeModel.Challenge, fingerprint string) (resolved, error) {
	v, err, _ := s.group.Do(fingerprint, func() (interface{}, error) {
		for {
			result, found, err := s.results.Get(ctx, fingerprint)
			if err != nil {
				return resolved{}, err
			}
			if found {
				logger.Info(ctx, "result cache hit",
					zap.String("submission_id", submission.ID),
					zap.String("fingerprint", fingerprint))
				return resolved{result: result, fromCache: true}, nil
			}

			claim, acquired, err := s.results.TryClaim(ctx, fingerprint)
			if err != nil {
				return resolved{}, err
			}
			if acquired {
				return s.gradeAsHolder(ctx, submission, challenge, fingerprint, claim)
			}

			awaitCtx, cancel := context.WithTimeout(ctx, s.claimWait)
			result, obtained, err := s.results.Await(awaitCtx, fingerprint)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					// Holder stalled past its claim TTL; race again.
					continue
				}
				return resolved{}, err
			}
			if obtained {
				return resolved{result: result, fromCache: true}, nil
			}
			// Holder released without publishing. Loop and try to claim.
		}
	})
	if err != nil {
		return resolved{}, err
	}
	return v.(resolved), nil
}

// gradeAsHolder runs the sandbox executions while owning the fingerprint
// claim. The result is committed for the holder's own submission before
// the cache learns about it, so a cache entry never references a result
// the store could lose.
func (s *GradingService) gradeAsHolder(ctx context.Context, submission *model.Submission, challenge *challengeModel.Challenge, fingerprint string, claim *resultcache.Claim) (resolved, error) {
	keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
	go s.keepClaimAlive(keepaliveCtx, claim)
	defer stopKeepalive()
	defer s.results.Release(context.WithoutCancel(ctx), claim)

	result, err := s.executeAll(ctx, submission, challenge, fingerprint)
	if err != nil {
		return resolved{}, err
	}
	if err := s.commit(ctx, submission.ID, result, false); err != nil {
		return resolved{}, err
	}
	if err := s.results.Put(ctx, fingerprint, result); err != nil {
		// The store has the result; losing the cache entry only costs a
		// recomputation for the next identical submission.
		logger.Warn(ctx, "result cache put failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	return resolved{result: result, committedID: submission.ID}, nil
}

func (s *GradingService) keepClaimAlive(ctx context.Context, claim *resultcache.Claim) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.results.Extend(ctx, claim); err != nil {
				logger.Warn(ctx, "claim extend failed", zap.Error(err))
			}
		}
	}
}

// executeAll runs every test case of the challenge against the submission.
// The first test runs alone so a build failure short-circuits before any
// fan-out; the rest run concurrently up to the configured limit.
func (s *GradingService) executeAll(ctx context.Context, submission *model.Submission, challenge *challengeModel.Challenge, fingerprint string) (*model.GradedResult, error) {
	if err := s.challenges.ResolveFixtures(ctx, challenge); err != nil {
		return nil, err
	}
	if len(challenge.TestCases) == 0 {
		return nil, appErr.New(appErr.TestCaseInvalid).WithMessage("challenge has no test cases")
	}

	first, compileErr, err := s.runTest(ctx, submission, challenge, challenge.TestCases[0])
	if err != nil {
		return nil, err
	}
	if compileErr != nil {
		return compileFailure(fingerprint, challenge, compileErr), nil
	}

	tests := make([]model.ExecutionResult, len(challenge.TestCases))
	tests[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrentTests)
	for i := 1; i < len(challenge.TestCases); i++ {
		i := i
		g.Go(func() error {
			test, compileErr, err := s.runTest(gctx, submission, challenge, challenge.TestCases[i])
			if err != nil {
				return err
			}
			if compileErr != nil {
				// Builds are deterministic; a late compile failure means
				// the sandbox lost its build cache mid-flight.
				test = model.ExecutionResult{
					TestOrdinal: challenge.TestCases[i].Ordinal,
					Verdict:     model.VerdictCompilationError,
					ExitCode:    compileErr.ExitCode,
					Stderr:      compileErr.Stderr,
					Weight:      challenge.TestCases[i].Weight,
				}
			}
			tests[i] = test
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return aggregate(fingerprint, challenge.ScoringPolicy, tests), nil
}

// runTest executes one test case and classifies the outcome. A non-nil
// compile result signals the build phase failed; the error return is
// reserved for infrastructure and rejection failures.
func (s *GradingService) runTest(ctx context.Context, submission *model.Submission, challenge *challengeModel.Challenge, tc challengeModel.TestCase) (model.ExecutionResult, *model.ExecutionResult, error) {
	limits := challenge.LimitsFor(tc)
	timeout := time.Duration(limits.TimeLimitMS)*time.Millisecond + sandboxOverhead

	outcome, err := s.executor.Execute(ctx, executor.ExecRequest{
		Environment:   submission.Environment,
		Code:          submission.Code,
		Stdin:         tc.Input,
		TimeLimitMS:   limits.TimeLimitMS,
		MemoryLimitKB: limits.MemoryLimitKB,
	}, timeout)
	if err != nil {
		return model.ExecutionResult{}, nil, err
	}

	if outcome.CompileFailed() {
		compile := &model.ExecutionResult{
			TestOrdinal: tc.Ordinal,
			Verdict:     model.VerdictCompilationError,
			ExitCode:    outcome.Compile.ExitCode,
			Stderr:      outcome.Compile.Stderr,
			Weight:      tc.Weight,
		}
		return model.ExecutionResult{}, compile, nil
	}

	test := model.ExecutionResult{
		TestOrdinal: tc.Ordinal,
		Weight:      tc.Weight,
	}
	if outcome.TimedOut {
		test.Verdict = model.VerdictTimeLimitExceeded
		test.TimeUsedMS = limits.TimeLimitMS
		return test, nil, nil
	}
	if outcome.Run == nil {
		test.Verdict = model.VerdictSandboxError
		return test, nil, nil
	}

	run := outcome.Run
	test.ExitCode = run.ExitCode
	test.Stdout = run.Stdout
	test.Stderr = run.Stderr
	test.TimeUsedMS = run.TimeUsedMS
	test.MemoryUsedKB = run.MemoryUsedKB

	switch {
	case limits.TimeLimitMS > 0 && run.TimeUsedMS > limits.TimeLimitMS:
		test.Verdict = model.VerdictTimeLimitExceeded
	case limits.MemoryLimitKB > 0 && run.MemoryUsedKB > limits.MemoryLimitKB:
		test.Verdict = model.VerdictMemoryLimitExceeded
	case run.ExitCode != 0:
		test.Verdict = model.VerdictRuntimeError
	case strings.TrimSpace(run.Stdout) == "":
		test.Verdict = model.VerdictNoOutput
	case !outputMatches(run.Stdout, tc.Expected):
		test.Verdict = model.VerdictWrongAnswer
	default:
		test.Verdict = model.VerdictOK
	}
	return test, nil, nil
}

// outputMatches compares program output against the expected output,
// ignoring trailing whitespace on each line and trailing blank lines.
func outputMatches(got, expected string) bool {
	return normalizeOutput(got) == normalizeOutput(expected)
}

func normalizeOutput(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}

// commit persists the graded result for one submission. A concurrent
// commit by another worker is treated as success.
func (s *GradingService) commit(ctx context.Context, submissionID string, result *model.GradedResult, fromCache bool) error {
	err := s.submissions.CommitResult(ctx, submissionID, result, fromCache)
	if err != nil && !appErr.Is(err, appErr.ResultAlreadyCommitted) {
		return err
	}
	logger.Info(ctx, "submission graded",
		zap.String("submission_id", submissionID),
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("score", result.Score),
		zap.Bool("from_cache", fromCache))
	return nil
}

func (s *GradingService) markFailed(ctx context.Context, submission *model.Submission) {
	for _, from := range []model.Status{model.StatusRunning, model.StatusPending} {
		if err := s.submissions.TransitionStatus(ctx, submission.ID, from, model.StatusFailed); err == nil {
			return
		}
	}
	logger.Warn(ctx, "could not mark submission failed",
		zap.String("submission_id", submission.ID))
}
