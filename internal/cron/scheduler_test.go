package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/flemzord/reddichat/internal/cron"
	"github.com/flemzord/reddichat/internal/cron/crontest"
)

func TestScheduler_RegisterJob_DuplicateName(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())

	err := s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "* * * * *"})
	if err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}

	err = s.RegisterJob(&crontest.MockJob{NameVal: "test", ScheduleVal: "* * * * *"})
	if err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestScheduler_Start_InvalidSchedule(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	_ = s.RegisterJob(&crontest.MockJob{NameVal: "bad", ScheduleVal: "invalid"})

	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(nil)
	_ = s.RegisterJob(&crontest.MockJob{NameVal: "noop", ScheduleVal: "* * * * *"})

	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestScheduler_Jobs(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	for _, name := range []string{"b", "a", "c"} {
		_ = s.RegisterJob(&crontest.MockJob{NameVal: name, ScheduleVal: "@hourly"})
	}
	if got := s.Jobs(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Jobs = %v", got)
	}
	if id := s.ModuleInfo().ID; id != "cron.scheduler" {
		t.Errorf("ModuleInfo().ID = %q", id)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	boom := errors.New("job failed")
	job := &crontest.MockJob{
		NameVal:     "failing",
		ScheduleVal: "* * * * *",
		RunFunc:     func(context.Context) error { return boom },
	}
	s := cron.NewScheduler(slog.Default())
	_ = s.RegisterJob(job)

	ran, err := s.RunNow(context.Background(), "failing")
	if !ran || !errors.Is(err, boom) {
		t.Errorf("RunNow = %v, %v", ran, err)
	}
	if job.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", job.CallCount())
	}

	if ran, _ := s.RunNow(context.Background(), "missing"); ran {
		t.Error("unknown job reported as run")
	}
}

func TestScheduler_NoParallelExecution(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	s := cron.NewScheduler(slog.Default())
	_ = s.RegisterJob(&crontest.MockJob{
		NameVal:     "slow",
		ScheduleVal: "* * * * *",
		RunFunc: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.RunNow(context.Background(), "slow")
	}()
	<-started

	if ran, _ := s.RunNow(context.Background(), "slow"); ran {
		t.Error("second run overlapped the first")
	}
	close(release)
	wg.Wait()
}

func TestDefaultSchedulesParse(t *testing.T) {
	t.Parallel()

	s := cron.NewScheduler(slog.Default())
	_ = s.RegisterJob(&cron.AttachmentCleanupJob{})
	_ = s.RegisterJob(&cron.RateLimitSweepJob{})
	if err := s.Start(); err != nil {
		t.Fatalf("default schedules rejected: %v", err)
	}
	_ = s.Stop(context.Background())
}
