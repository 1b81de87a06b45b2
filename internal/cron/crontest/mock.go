// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/reddichat/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockDeleter is a test double for cron.ObjectDeleter. Keys listed in
// Fail are refused with the mapped error.
type MockDeleter struct {
	Fail map[string]error

	mu      sync.Mutex
	deleted []string
}

// Delete implements cron.ObjectDeleter.
func (m *MockDeleter) Delete(_ context.Context, key string) error {
	if err := m.Fail[key]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

// Deleted returns the keys deleted so far.
func (m *MockDeleter) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Counter is a test double for cron.PurgeCounter.
type Counter struct {
	mu    sync.Mutex
	total int
}

// AttachmentsPurged implements cron.PurgeCounter.
func (c *Counter) AttachmentsPurged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
}

// Total returns the accumulated count.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
