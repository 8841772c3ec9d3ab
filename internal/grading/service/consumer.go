package service

import (
	"context"
	"encoding/json"
	"errors"

	"codegrade/internal/common/mq"
	"codegrade/internal/grading/model"
	appErr "codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"go.uber.org/zap"
)

// GradeConsumer consumes grading tasks from the queue and drives them
// through the grading service.
type GradeConsumer struct {
	grading *GradingService
	gauges  GaugeStore
}

// NewGradeConsumer creates a grading task consumer.
func NewGradeConsumer(grading *GradingService, gauges GaugeStore) *GradeConsumer {
	return &GradeConsumer{grading: grading, gauges: gauges}
}

// HandleMessage processes one grading task. Returning an error requeues
// the task; only infrastructure failures are worth retrying, everything
// else has already moved the submission to a terminal state.
func (c *GradeConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	var task model.GradeTask
	if err := json.Unmarshal(message.Body, &task); err != nil {
		logger.Error(ctx, "malformed grading task dropped",
			zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	if task.SubmissionID == "" {
		logger.Error(ctx, "grading task without submission id dropped",
			zap.String("message_id", message.ID))
		return nil
	}

	if c.gauges != nil {
		c.gauges.DecrWaiting(ctx)
	}

	_, err := c.grading.Grade(ctx, task.SubmissionID)
	if err == nil {
		return nil
	}
	if appErr.IsInfrastructure(err) || errors.Is(err, context.Canceled) {
		logger.Warn(ctx, "grading hit infrastructure failure, requeueing",
			zap.String("submission_id", task.SubmissionID),
			zap.Int("retry_count", message.RetryCount),
			zap.Error(err))
		if c.gauges != nil {
			c.gauges.IncrWaiting(ctx)
		}
		return err
	}

	logger.Error(ctx, "grading failed terminally",
		zap.String("submission_id", task.SubmissionID), zap.Error(err))
	return nil
}
