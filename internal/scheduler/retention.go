package scheduler

import (
	"context"
	"time"

	"github.com/anstrom/vulnscan/internal/logging"
)

// RetentionJobName is the name the retention sweep is scheduled under.
const RetentionJobName = "retention"

// Pruner deletes finished jobs. store.Store satisfies it.
type Pruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTask deletes finished jobs that ended more than maxAge ago.
func RetentionTask(p Pruner, maxAge time.Duration, logger *logging.Logger) Task {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-maxAge)
		removed, err := p.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("Deleted expired scan jobs", "count", removed, "cutoff", cutoff.UTC())
		}
		return nil
	}
}
