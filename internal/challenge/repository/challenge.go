package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"codegrade/internal/challenge/model"
	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	"codegrade/internal/common/storage"
	appErr "codegrade/pkg/errors"
)

const (
	defaultChallengeCacheTTL      = 30 * time.Minute
	defaultChallengeCacheEmptyTTL = 5 * time.Minute
	challengeCacheKeyPrefix       = "challenge:"

	maxFixtureBytes = 8 << 20
)

// ChallengeRepository defines challenge persistence interfaces.
// Published versions are immutable; creating a challenge always appends
// the next version.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge *model.Challenge) error
	Get(ctx context.Context, challengeID string, version int64) (*model.Challenge, error)
	GetLatest(ctx context.Context, challengeID string) (*model.Challenge, error)
	ResolveFixtures(ctx context.Context, challenge *model.Challenge) error
}

// MySQLChallengeRepository implements ChallengeRepository with MySQL,
// a read-through cache, and object storage for large fixtures.
type MySQLChallengeRepository struct {
	db       db.Database
	cache    cache.Cache
	storage  storage.ObjectStorage
	bucket   string
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewChallengeRepository creates a challenge repository with defaults.
func NewChallengeRepository(database db.Database, cacheClient cache.Cache, objStorage storage.ObjectStorage, bucket string) *MySQLChallengeRepository {
	return &MySQLChallengeRepository{
		db:       database,
		cache:    cacheClient,
		storage:  objStorage,
		bucket:   bucket,
		ttl:      defaultChallengeCacheTTL,
		emptyTTL: defaultChallengeCacheEmptyTTL,
	}
}

// Create appends the next version of a challenge in one transaction.
func (r *MySQLChallengeRepository) Create(ctx context.Context, challenge *model.Challenge) error {
	if challenge == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("challenge is nil")
	}
	if err := challenge.Validate(); err != nil {
		return err
	}

	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		var latest int64
		row := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM challenges WHERE challenge_id = ? FOR UPDATE`,
			challenge.ID,
		)
		if err := row.Scan(&latest); err != nil {
			return appErr.Wrap(err, appErr.StoreError)
		}
		challenge.Version = latest + 1

		_, err := tx.Exec(ctx, `
			INSERT INTO challenges
			(challenge_id, version, title, description, published, scoring_policy, time_limit_ms, memory_limit_kb)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			challenge.ID,
			challenge.Version,
			challenge.Title,
			challenge.Description,
			challenge.Published,
			string(challenge.ScoringPolicy),
			challenge.DefaultLimits.TimeLimitMS,
			challenge.DefaultLimits.MemoryLimitKB,
		)
		if err != nil {
			return appErr.Wrap(err, appErr.ChallengeCreateFailed)
		}

		for i := range challenge.TestCases {
			tc := &challenge.TestCases[i]
			tc.Ordinal = i
			_, err := tx.Exec(ctx, `
				INSERT INTO challenge_test_cases
				(challenge_id, version, ordinal, input, expected, input_key, expected_key, weight, time_limit_ms, memory_limit_kb)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				challenge.ID,
				challenge.Version,
				tc.Ordinal,
				tc.Input,
				tc.Expected,
				tc.InputKey,
				tc.ExpectedKey,
				tc.Weight,
				tc.Limits.TimeLimitMS,
				tc.Limits.MemoryLimitKB,
			)
			if err != nil {
				return appErr.Wrap(err, appErr.ChallengeCreateFailed)
			}
		}
		return nil
	})
}

// Get retrieves one challenge version, read-through cached.
func (r *MySQLChallengeRepository) Get(ctx context.Context, challengeID string, version int64) (*model.Challenge, error) {
	if challengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	if version <= 0 {
		return nil, appErr.ValidationError("version", "must be positive")
	}

	if r.cache != nil {
		challenge, err := cache.GetWithCached[*model.Challenge](
			ctx,
			r.cache,
			challengeCacheKey(challengeID, version),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(c *model.Challenge) bool { return c == nil },
			marshalChallenge,
			unmarshalChallenge,
			func(ctx context.Context) (*model.Challenge, error) {
				challenge, err := r.getFromDB(ctx, challengeID, version)
				if err != nil {
					if appErr.Is(err, appErr.ChallengeNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return challenge, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if challenge == nil {
			return nil, appErr.New(appErr.ChallengeNotFound).
				WithDetail("challenge_id", challengeID).
				WithDetail("version", version)
		}
		return challenge, nil
	}
	return r.getFromDB(ctx, challengeID, version)
}

// GetLatest retrieves the newest version of a challenge.
func (r *MySQLChallengeRepository) GetLatest(ctx context.Context, challengeID string) (*model.Challenge, error) {
	if challengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	var version int64
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM challenges WHERE challenge_id = ?`,
		challengeID,
	)
	if err := row.Scan(&version); err != nil {
		return nil, wrapStoreErr(err)
	}
	if version == 0 {
		return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", challengeID)
	}
	return r.Get(ctx, challengeID, version)
}

// ResolveFixtures loads object-storage fixtures into the inline fields.
// Test cases with inline data are left untouched.
func (r *MySQLChallengeRepository) ResolveFixtures(ctx context.Context, challenge *model.Challenge) error {
	if challenge == nil {
		return nil
	}
	for i := range challenge.TestCases {
		tc := &challenge.TestCases[i]
		if tc.InputKey != "" && tc.Input == "" {
			data, err := r.fetchFixture(ctx, tc.InputKey)
			if err != nil {
				return err
			}
			tc.Input = data
		}
		if tc.ExpectedKey != "" && tc.Expected == "" {
			data, err := r.fetchFixture(ctx, tc.ExpectedKey)
			if err != nil {
				return err
			}
			tc.Expected = data
		}
	}
	return nil
}

func (r *MySQLChallengeRepository) fetchFixture(ctx context.Context, key string) (string, error) {
	if r.storage == nil {
		return "", appErr.New(appErr.GradingSystemError).
			WithMessagef("fixture %s requires object storage but none is configured", key)
	}
	reader, err := r.storage.GetObject(ctx, r.bucket, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StoreUnavailable, "fetch fixture %s failed", key)
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, maxFixtureBytes))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StoreUnavailable, "read fixture %s failed", key)
	}
	return string(data), nil
}

func (r *MySQLChallengeRepository) getFromDB(ctx context.Context, challengeID string, version int64) (*model.Challenge, error) {
	var (
		challenge model.Challenge
		policy    string
		createdAt time.Time
	)
	row := r.db.QueryRow(ctx, `
		SELECT challenge_id, version, title, description, published, scoring_policy, time_limit_ms, memory_limit_kb, created_at
		FROM challenges WHERE challenge_id = ? AND version = ?`,
		challengeID, version,
	)
	err := row.Scan(
		&challenge.ID,
		&challenge.Version,
		&challenge.Title,
		&challenge.Description,
		&challenge.Published,
		&policy,
		&challenge.DefaultLimits.TimeLimitMS,
		&challenge.DefaultLimits.MemoryLimitKB,
		&createdAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.ChallengeNotFound).
				WithDetail("challenge_id", challengeID).
				WithDetail("version", version)
		}
		return nil, wrapStoreErr(err)
	}
	challenge.ScoringPolicy = model.ScoringPolicy(policy)
	challenge.CreatedAt = createdAt

	rows, err := r.db.Query(ctx, `
		SELECT ordinal, input, expected, input_key, expected_key, weight, time_limit_ms, memory_limit_kb
		FROM challenge_test_cases
		WHERE challenge_id = ? AND version = ?
		ORDER BY ordinal`,
		challengeID, version,
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(
			&tc.Ordinal,
			&tc.Input,
			&tc.Expected,
			&tc.InputKey,
			&tc.ExpectedKey,
			&tc.Weight,
			&tc.Limits.TimeLimitMS,
			&tc.Limits.MemoryLimitKB,
		); err != nil {
			return nil, wrapStoreErr(err)
		}
		challenge.TestCases = append(challenge.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return &challenge, nil
}

func wrapStoreErr(err error) error {
	if db.IsUnavailable(err) {
		return appErr.Wrap(err, appErr.StoreUnavailable)
	}
	return appErr.Wrap(err, appErr.StoreError)
}

func challengeCacheKey(challengeID string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", challengeCacheKeyPrefix, challengeID, version)
}

func marshalChallenge(challenge *model.Challenge) string {
	data, err := json.Marshal(challenge)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalChallenge(data string) (*model.Challenge, error) {
	var challenge model.Challenge
	if err := json.Unmarshal([]byte(data), &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}
