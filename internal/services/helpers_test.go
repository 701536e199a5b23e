package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinel/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSampler returns queued readings in order, then repeats the last one
type fakeSampler struct {
	mu      sync.Mutex
	clock   Clock
	samples []models.Sample
	errs    []error
	calls   int
}

func (f *fakeSampler) push(cpu, mem, disk float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, models.Sample{CPUPercent: cpu, MemoryPercent: mem, DiskPercent: disk})
	f.errs = append(f.errs, nil)
}

func (f *fakeSampler) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, models.Sample{})
	f.errs = append(f.errs, err)
}

func (f *fakeSampler) Sample(ctx context.Context) (models.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.samples) == 0 {
		return models.Sample{}, ErrSampleUnavailable
	}
	s, err := f.samples[0], f.errs[0]
	if len(f.samples) > 1 {
		f.samples, f.errs = f.samples[1:], f.errs[1:]
	}
	if err != nil {
		return models.Sample{}, err
	}
	if f.clock != nil {
		s.Timestamp = f.clock.Now()
	} else {
		s.Timestamp = time.Now()
	}
	return s, nil
}

func (f *fakeSampler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, localPath, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, name)
	return u.err
}

func (u *fakeUploader) Uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.names...)
}

var errBoom = errors.New("boom")

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}
