package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/lhkeeper/internal/history"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// historyWriteTimeout bounds each insert so a locked database cannot stall
// the loop.
const historyWriteTimeout = 2 * time.Second

// History records every finished cycle in the history repository.
type History struct {
	repo         history.Repository
	runID        string
	lighthouseID string
	address      string
	logger       Logger
}

// NewHistory creates a history sink.
func NewHistory(repo history.Repository, runID, lighthouseID, address string, logger Logger) *History {
	return &History{
		repo:         repo,
		runID:        runID,
		lighthouseID: lighthouseID,
		address:      address,
		logger:       logger,
	}
}

// Observe implements lighthouse.Observer.
func (h *History) Observe(e lighthouse.Event) {
	if e.Report == nil {
		return
	}
	if e.Type != lighthouse.EventCycleComplete && e.Type != lighthouse.EventCycleFailed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	err := h.repo.Record(ctx, history.Entry{
		RunID:        h.runID,
		LighthouseID: h.lighthouseID,
		Address:      h.address,
		CycleSummary: e.Report.Summary(),
	})
	if err != nil && h.logger != nil {
		h.logger.Warn("recording cycle history failed", "cycle", e.Report.Cycle, "error", err)
	}
}

// PruneHistory deletes rows older than retention. A zero retention keeps
// everything.
//
// Returns:
//   - int64: Rows removed
//   - error: From the repository
func PruneHistory(ctx context.Context, repo history.Repository, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return repo.Prune(ctx, retention)
}

// DefaultPruneInterval is how often RunPruner enforces retention.
const DefaultPruneInterval = 24 * time.Hour

// RunPruner enforces retention every interval until ctx is cancelled, so a
// run without a global timeout does not accumulate rows past retention.
// Failures are logged and retried on the next tick.
//
// Parameters:
//   - retention: Zero keeps everything; RunPruner then returns immediately
//   - interval: Tick period; DefaultPruneInterval when <= 0
//
// Returns:
//   - error: Always nil; fits an errgroup alongside the keep-alive loop
func RunPruner(ctx context.Context, repo history.Repository, retention, interval time.Duration, logger Logger) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := repo.Prune(ctx, retention)
			if logger == nil {
				continue
			}
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Warn("pruning cycle history failed", "error", err)
			case err == nil && n > 0:
				logger.Info("pruned cycle history", "rows", n)
			}
		}
	}
}
