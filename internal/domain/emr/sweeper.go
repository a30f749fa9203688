package emr

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ExpirySweeper periodically expires overdue prescriptions.
type ExpirySweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewExpirySweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweeper{svc: svc, interval: interval, logger: logger.With().Str("component", "prescription_sweeper").Logger()}
}

// Sweep runs one pass and returns the number of prescriptions expired.
func (w *ExpirySweeper) Sweep(ctx context.Context) int64 {
	n, err := w.svc.ExpireOverdue(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to expire prescriptions")
		return 0
	}
	if n > 0 {
		w.logger.Info().Int64("expired", n).Msg("expired overdue prescriptions")
	}
	return n
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context) {
	w.Sweep(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}
