package usecase

import (
	"context"
	"log/slog"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
)

// DeadLetterReplayer is the queue operation behind manual replay.
type DeadLetterReplayer interface {
	RetryFromDeadLetter(ctx context.Context, dlqID string) (string, error)
}

type ReplayDeadLetter struct {
	queue  DeadLetterReplayer
	logger *slog.Logger
}

func NewReplayDeadLetter(q DeadLetterReplayer, logger *slog.Logger) *ReplayDeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplayDeadLetter{queue: q, logger: logger}
}

func (uc *ReplayDeadLetter) Execute(ctx context.Context, dlqID string) (string, error) {
	newJobID, err := uc.queue.RetryFromDeadLetter(ctx, dlqID)
	if err != nil {
		return "", err
	}
	uc.logger.Info("dead letter replay requested", "dead_letter_id", dlqID, "new_job_id", newJobID)
	return newJobID, nil
}

type ListDeadLetters struct {
	repo job.DeadLetterRepository
}

func NewListDeadLetters(repo job.DeadLetterRepository) *ListDeadLetters {
	return &ListDeadLetters{repo: repo}
}

func (uc *ListDeadLetters) Execute(ctx context.Context, limit, offset int) ([]*job.DeadLetterRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return uc.repo.List(ctx, limit, offset)
}
