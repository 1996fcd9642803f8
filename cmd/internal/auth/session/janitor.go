package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically drops expired refresh credentials. Per-principal
// sweeps already run on every login and refresh; the janitor catches
// principals that never come back.
type Janitor struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewJanitor returns a Janitor sweeping every interval.
func NewJanitor(svc *Service, interval time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{svc: svc, interval: interval, log: log}
}

// Run sweeps until ctx is done. It returns immediately when the interval is
// not positive.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 {
		return nil
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.svc.SweepExpired(ctx)
	if err != nil {
		j.log.WarnContext(ctx, "session.janitor.fail", "err", err)
		return
	}
	if n > 0 {
		j.log.InfoContext(ctx, "session.janitor.swept", "count", n)
	}
}
