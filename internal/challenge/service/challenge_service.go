// Package service implements challenge authoring and lookup on top of the
// versioned challenge store.
package service

import (
	"context"

	"codegrade/internal/challenge/model"
	"codegrade/internal/challenge/repository"
	appErr "codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"go.uber.org/zap"
)

// ChallengeService exposes challenge operations to the API layer.
type ChallengeService struct {
	challenges repository.ChallengeRepository
}

// NewChallengeService creates the challenge service.
func NewChallengeService(challenges repository.ChallengeRepository) (*ChallengeService, error) {
	if challenges == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("challenge repository is required")
	}
	return &ChallengeService{challenges: challenges}, nil
}

// Create validates and persists a new challenge version. Versions are
// append-only: publishing an edit of an existing challenge id yields the
// next version and leaves older versions untouched.
func (s *ChallengeService) Create(ctx context.Context, challenge *model.Challenge) (*model.Challenge, error) {
	if challenge == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("challenge is nil")
	}
	if err := challenge.Validate(); err != nil {
		return nil, err
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, err
	}
	logger.Info(ctx, "challenge version created",
		zap.String("challenge_id", challenge.ID),
		zap.Int64("version", challenge.Version),
		zap.Int("test_cases", len(challenge.TestCases)))
	return challenge, nil
}

// Get returns one challenge version; version 0 means latest.
func (s *ChallengeService) Get(ctx context.Context, challengeID string, version int64) (*model.Challenge, error) {
	if version <= 0 {
		return s.challenges.GetLatest(ctx, challengeID)
	}
	return s.challenges.Get(ctx, challengeID, version)
}
