package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reminders/internal/sweep"
)

type countingSweeper struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) (sweep.Report, error) {
	c.calls.Add(1)
	if c.block != nil {
		<-c.block
	}
	return sweep.Report{}, c.err
}

func TestNewServiceRejectsBadCron(t *testing.T) {
	t.Parallel()
	if _, err := NewService(&countingSweeper{}, "not-a-cron", 0, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestRunOnceCallsSweeper(t *testing.T) {
	t.Parallel()
	sw := &countingSweeper{err: errors.New("store down")}
	s, err := NewService(sw, "*/30 * * * *", time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	s.runOnce()
	s.runOnce()
	if sw.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", sw.calls.Load())
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	t.Parallel()
	sw := &countingSweeper{block: make(chan struct{})}
	s, err := NewService(sw, "@every 1m", 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	done := make(chan struct{})
	go func() {
		s.runOnce()
		close(done)
	}()
	for sw.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.runOnce()
	close(sw.block)
	<-done
	if sw.calls.Load() != 1 {
		t.Fatalf("calls = %d, overlapping tick should be skipped", sw.calls.Load())
	}
}

func TestCronHelpers(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	if err := ValidateCronExpression("*/30 * * * *"); err != nil {
		t.Fatalf("ValidateCronExpression: %v", err)
	}
	if err := ValidateCronExpression("61 * * * *"); err == nil {
		t.Fatal("expected error for minute 61")
	}
	next, err := NextRunTime("*/30 * * * *", from)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if want := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestCheckCadence(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expr    string
		window  time.Duration
		wantErr bool
	}{
		{expr: "*/30 * * * *", window: 35 * time.Minute},
		{expr: "*/30 * * * *", window: 30 * time.Minute},
		{expr: "0 * * * *", window: 35 * time.Minute, wantErr: true},
		{expr: "*/5 9-17 * * *", window: 35 * time.Minute, wantErr: true},
	}
	for _, tt := range tests {
		err := CheckCadence(tt.expr, tt.window, from)
		if (err != nil) != tt.wantErr {
			t.Fatalf("CheckCadence(%q, %v) = %v, wantErr %v", tt.expr, tt.window, err, tt.wantErr)
		}
	}
}
