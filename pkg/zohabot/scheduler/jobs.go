package scheduler

import (
	"context"
	"log/slog"
)

// SessionSaver persists the live session. *bot.Bot implements it.
type SessionSaver interface {
	SaveSession(ctx context.Context) error
}

// StateEvicter drops expired durable state. *bot.Bot implements it.
type StateEvicter interface {
	EvictState(ctx context.Context) (int64, error)
}

// SaveSessionJob periodically writes the session blob so a crash loses at
// most one interval of session refreshes.
func SaveSessionJob(schedule string, saver SessionSaver) Job {
	return Job{
		Name:     "save-session",
		Schedule: schedule,
		Run:      saver.SaveSession,
	}
}

// EvictStateJob periodically removes expired markers and forwarded media ids.
func EvictStateJob(schedule string, evicter StateEvicter, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{
		Name:     "evict-state",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := evicter.EvictState(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("expired state evicted", "rows", n)
			}
			return nil
		},
	}
}
