package emr

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExpirySweeper_Sweep(t *testing.T) {
	f := newFixture()
	issued := f.now.Add(-31 * 24 * time.Hour)
	f.prescribe(t, &PrescriptionRequest{IssueDate: &issued})
	f.prescribe(t, &PrescriptionRequest{IssueDate: &issued})

	w := NewExpirySweeper(f.svc, time.Minute, zerolog.Nop())
	if n := w.Sweep(context.Background()); n != 2 {
		t.Errorf("expected 2 expired, got %d", n)
	}
	if n := w.Sweep(context.Background()); n != 0 {
		t.Errorf("expected nothing left to expire, got %d", n)
	}
}

func TestExpirySweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture()
	w := NewExpirySweeper(f.svc, 0, zerolog.Nop())
	if w.interval != time.Hour {
		t.Errorf("expected default interval, got %s", w.interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
