package repository

import (
	"context"
	"encoding/json"
	"time"

	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	"codegrade/internal/grading/model"
	appErr "codegrade/pkg/errors"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "submission:"
)

// SubmissionRepository defines submission persistence interfaces.
// Submissions are append-only; the grading pipeline is the only writer of
// status transitions, and a graded result commits exactly once.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	ListByChallenge(ctx context.Context, challengeID, learnerID string, limit int) ([]*model.Submission, error)
	TransitionStatus(ctx context.Context, submissionID string, from, to model.Status) error
	IncrementAttempts(ctx context.Context, submissionID string) error
	CommitResult(ctx context.Context, submissionID string, result *model.GradedResult, fromCache bool) error
	GetResult(ctx context.Context, submissionID string) (*model.GradedResult, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
// Terminal submissions are cached; in-flight ones always hit the store.
type MySQLSubmissionRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   time.Duration
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{
		db:    database,
		cache: cacheClient,
		ttl:   defaultSubmissionCacheTTL,
	}
}

// Create inserts a pending submission record.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("submission is nil")
	}
	if submission.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if submission.ChallengeID == "" {
		return appErr.ValidationError("challenge_id", "required")
	}
	if submission.Fingerprint == "" {
		return appErr.ValidationError("fingerprint", "required")
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO submissions
		(submission_id, learner_id, challenge_id, version, environment, code, fingerprint, status, from_cache, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		submission.LearnerID,
		submission.ChallengeID,
		submission.Version,
		submission.Environment,
		submission.Code,
		submission.Fingerprint,
		string(model.StatusPending),
		false,
		0,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.Wrap(err, appErr.DuplicateRecord)
		}
		return wrapStoreErr(err)
	}
	return nil
}

// GetByID retrieves a submission. Terminal rows are served from cache.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, submissionCacheKey(submissionID)); err == nil && raw != "" {
			var submission model.Submission
			if err := json.Unmarshal([]byte(raw), &submission); err == nil {
				return &submission, nil
			}
		}
	}

	submission, err := r.getByIDFromDB(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil && submission.Status.Terminal() {
		if data, err := json.Marshal(submission); err == nil {
			_ = r.cache.Set(ctx, submissionCacheKey(submissionID), string(data), cache.JitterTTL(r.ttl))
		}
	}
	return submission, nil
}

// ListByChallenge returns a learner's submissions for a challenge,
// newest first.
func (r *MySQLSubmissionRepository) ListByChallenge(ctx context.Context, challengeID, learnerID string, limit int) ([]*model.Submission, error) {
	if challengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT submission_id, learner_id, challenge_id, version, environment, code, fingerprint, status, from_cache, attempts, created_at, updated_at
		FROM submissions
		WHERE challenge_id = ? AND learner_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		challengeID, learnerID, limit,
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return submissions, nil
}

// TransitionStatus moves a submission between lifecycle states with an
// optimistic guard on the expected current state.
func (r *MySQLSubmissionRepository) TransitionStatus(ctx context.Context, submissionID string, from, to model.Status) error {
	result, err := r.db.Exec(ctx,
		`UPDATE submissions SET status = ?, updated_at = NOW() WHERE submission_id = ? AND status = ?`,
		string(to), submissionID, string(from),
	)
	if err != nil {
		return wrapStoreErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(err)
	}
	if affected == 0 {
		return appErr.Newf(appErr.InvalidValue, "submission %s is not %s", submissionID, from)
	}
	return nil
}

// IncrementAttempts bumps the grading attempt counter.
func (r *MySQLSubmissionRepository) IncrementAttempts(ctx context.Context, submissionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE submissions SET attempts = attempts + 1, updated_at = NOW() WHERE submission_id = ?`,
		submissionID,
	)
	if err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// CommitResult persists the graded result and flips the submission to
// completed in a single transaction. When the result came from the cache
// no execution result rows are written; the cached computation already
// owns them.
func (r *MySQLSubmissionRepository) CommitResult(ctx context.Context, submissionID string, result *model.GradedResult, fromCache bool) error {
	if result == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("result is nil")
	}

	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO graded_results
			(submission_id, fingerprint, verdict, score, passed_tests, total_tests, graded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			submissionID,
			result.Fingerprint,
			string(result.Verdict),
			result.Score,
			result.PassedTests,
			result.TotalTests,
			result.GradedAt,
		)
		if err != nil {
			if _, dup := db.UniqueViolation(err); dup {
				return appErr.New(appErr.ResultAlreadyCommitted).WithDetail("submission_id", submissionID)
			}
			return wrapStoreErr(err)
		}

		if !fromCache {
			for _, test := range result.Tests {
				_, err := tx.Exec(ctx, `
					INSERT INTO execution_results
					(submission_id, test_ordinal, verdict, exit_code, stdout, stderr, time_used_ms, memory_used_kb, weight)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					submissionID,
					test.TestOrdinal,
					string(test.Verdict),
					test.ExitCode,
					test.Stdout,
					test.Stderr,
					test.TimeUsedMS,
					test.MemoryUsedKB,
					test.Weight,
				)
				if err != nil {
					return wrapStoreErr(err)
				}
			}
		}

		res, err := tx.Exec(ctx, `
			UPDATE submissions SET status = ?, from_cache = ?, updated_at = NOW()
			WHERE submission_id = ? AND status IN (?, ?)`,
			string(model.StatusCompleted),
			fromCache,
			submissionID,
			string(model.StatusPending),
			string(model.StatusRunning),
		)
		if err != nil {
			return wrapStoreErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return wrapStoreErr(err)
		}
		if affected == 0 {
			return appErr.Newf(appErr.InvalidValue, "submission %s is not gradable", submissionID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
	}
	return nil
}

// GetResult retrieves the persisted graded result for a submission.
// Cached-reuse submissions carry no execution result rows of their own,
// so Tests may be empty for them.
func (r *MySQLSubmissionRepository) GetResult(ctx context.Context, submissionID string) (*model.GradedResult, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}

	var (
		result  model.GradedResult
		verdict string
	)
	row := r.db.QueryRow(ctx, `
		SELECT fingerprint, verdict, score, passed_tests, total_tests, graded_at
		FROM graded_results WHERE submission_id = ?`,
		submissionID,
	)
	err := row.Scan(
		&result.Fingerprint,
		&verdict,
		&result.Score,
		&result.PassedTests,
		&result.TotalTests,
		&result.GradedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.ResultNotReady).WithDetail("submission_id", submissionID)
		}
		return nil, wrapStoreErr(err)
	}
	result.Verdict = model.Verdict(verdict)

	rows, err := r.db.Query(ctx, `
		SELECT test_ordinal, verdict, exit_code, stdout, stderr, time_used_ms, memory_used_kb, weight
		FROM execution_results WHERE submission_id = ?
		ORDER BY test_ordinal`,
		submissionID,
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			test        model.ExecutionResult
			testVerdict string
		)
		if err := rows.Scan(
			&test.TestOrdinal,
			&testVerdict,
			&test.ExitCode,
			&test.Stdout,
			&test.Stderr,
			&test.TimeUsedMS,
			&test.MemoryUsedKB,
			&test.Weight,
		); err != nil {
			return nil, wrapStoreErr(err)
		}
		test.Verdict = model.Verdict(testVerdict)
		result.Tests = append(result.Tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return &result, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, submissionID string) (*model.Submission, error) {
	row := r.db.QueryRow(ctx, `
		SELECT submission_id, learner_id, challenge_id, version, environment, code, fingerprint, status, from_cache, attempts, created_at, updated_at
		FROM submissions WHERE submission_id = ?`,
		submissionID,
	)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
		}
		return nil, wrapStoreErr(err)
	}
	return submission, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		submission model.Submission
		status     string
	)
	err := row.Scan(
		&submission.ID,
		&submission.LearnerID,
		&submission.ChallengeID,
		&submission.Version,
		&submission.Environment,
		&submission.Code,
		&submission.Fingerprint,
		&status,
		&submission.FromCache,
		&submission.Attempts,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	submission.Status = model.Status(status)
	return &submission, nil
}

func wrapStoreErr(err error) error {
	if db.IsUnavailable(err) {
		return appErr.Wrap(err, appErr.StoreUnavailable)
	}
	return appErr.Wrap(err, appErr.StoreError)
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}
