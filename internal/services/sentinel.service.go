package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"

	"github.com/go-logr/logr"
)

// State is where the control loop is in its tick cycle
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateEvaluating
	StateAlerting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateEvaluating:
		return "evaluating"
	case StateAlerting:
		return "alerting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	errAlreadyRunning = errors.New("sentinel is already running")
	errStopped        = errors.New("sentinel has been stopped")
	errNoBackups      = errors.New("backup manager not configured")
)

// Mutator is implemented by any collaborator that changes watched state.
// The sentinel snapshots Current before Apply runs.
type Mutator interface {
	BufferID() string
	Current(ctx context.Context) ([]byte, error)
	Apply(ctx context.Context) error
}

// Options wires the sentinel to its collaborators. Only Config and Sampler
// are required.
type Options struct {
	Config   *config.Config
	Sampler  Sampler
	Store    *EncryptedStore
	Limiter  *RateLimiter
	Backups  *BackupManager
	AlertLog *AlertLog
	Clock    Clock
	Logger   logr.Logger
}

// Sentinel drives sampling, evaluation and alert dispatch on a fixed
// interval and guards mutations of watched state with snapshots.
type Sentinel struct {
	cfg atomic.Pointer[config.Config]

	sampler    Sampler
	history    *SampleHistory
	dispatcher *Dispatcher
	store      *EncryptedStore
	limiter    *RateLimiter
	backups    *BackupManager
	alertLog   *AlertLog
	clock      *stampClock

	state atomic.Int32

	activeMu sync.RWMutex
	active   map[models.AlertKey]models.Alert

	cyclesMu  sync.Mutex
	durations []time.Duration
	outcomes  []bool // true for a failed cycle

	runMu   sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	stopped bool

	logger logr.Logger
}

// New creates an idle sentinel
func New(opts Options) (*Sentinel, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Sampler == nil {
		return nil, errors.New("sampler is required")
	}

	s := &Sentinel{
		sampler:  opts.Sampler,
		history:  NewSampleHistory(opts.Config.HistorySize),
		store:    opts.Store,
		limiter:  opts.Limiter,
		backups:  opts.Backups,
		alertLog: opts.AlertLog,
		clock:    newStampClock(opts.Clock),
		active:   make(map[models.AlertKey]models.Alert),
		logger:   opts.Logger.WithName("loop"),
	}
	s.dispatcher = NewDispatcher(opts.Logger)
	s.cfg.Store(opts.Config.Clone())
	s.setState(StateIdle)
	return s, nil
}

// Config returns the configuration currently in force
func (s *Sentinel) Config() *config.Config {
	return s.cfg.Load()
}

// State returns the current loop state
func (s *Sentinel) State() State {
	return State(s.state.Load())
}

func (s *Sentinel) setState(st State) {
	s.state.Store(int32(st))
}

// History exposes the sample ring for read-only queries
func (s *Sentinel) History() *SampleHistory {
	return s.history
}

// RegisterAlertCallback subscribes cb to alerts whose resource, kind or tag
// equals match. Use MatchAll for every alert.
func (s *Sentinel) RegisterAlertCallback(match string, cb AlertCallback) func() {
	return s.dispatcher.Register(match, cb)
}

// Run ticks until ctx is cancelled or Stop is called. The tick in flight
// always completes before Run returns.
func (s *Sentinel) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.stopped {
		s.runMu.Unlock()
		return errStopped
	}
	if s.stopCh != nil {
		s.runMu.Unlock()
		return errAlreadyRunning
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.done = stopCh, done
	s.runMu.Unlock()

	defer close(done)
	defer s.setState(StateStopped)

	interval := s.Config().CheckInterval
	s.logger.Info("monitoring started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			s.logger.Info("monitoring stopped", "reason", ctx.Err().Error())
			return nil
		case <-stopCh:
			s.logger.Info("monitoring stopped")
			return nil
		case <-ticker.C:
			// select picks randomly among ready cases; a pending stop wins over the tick
			select {
			case <-stopCh:
				s.logger.Info("monitoring stopped")
				return nil
			case <-ctx.Done():
				s.markStopped()
				s.logger.Info("monitoring stopped", "reason", ctx.Err().Error())
				return nil
			default:
			}
			s.Tick(ctx)
			if next := s.Config().CheckInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.Info("check interval changed", "interval", interval)
			}
		}
	}
}

func (s *Sentinel) markStopped() {
	s.runMu.Lock()
	s.stopped = true
	s.runMu.Unlock()
}

// Stop requests shutdown and waits for the current tick to drain
func (s *Sentinel) Stop() {
	s.runMu.Lock()
	if s.stopped {
		done := s.done
		s.runMu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	s.stopped = true
	stopCh, done := s.stopCh, s.done
	s.runMu.Unlock()

	if stopCh == nil {
		s.setState(StateStopped)
		return
	}
	close(stopCh)
	<-done
}

// Tick runs one sample, evaluate, dispatch cycle. It is not cancelled by
// ctx; the sample read is bounded by sample_timeout and each callback by
// callback_timeout.
func (s *Sentinel) Tick(ctx context.Context) error {
	started := time.Now()
	defer func() { tickDuration.Observe(time.Since(started).Seconds()) }()

	ctx = context.WithoutCancel(ctx)
	cfg := s.Config()

	s.setState(StateSampling)
	sctx, cancel := context.WithTimeout(ctx, cfg.SampleTimeout)
	sample, err := s.sampler.Sample(sctx)
	cancel()
	if err != nil {
		s.logger.Info("tick skipped", "error", err.Error())
		ticksTotal.WithLabelValues("skipped").Inc()
		s.setState(StateIdle)
		return err
	}
	sample.Timestamp = s.clock.stamp(sample.Timestamp)

	s.setState(StateEvaluating)
	history := append(s.history.Snapshot(), sample)
	durations, failures, attempts := s.cycleWindow()
	alerts := NewAnomalyDetector(DetectorConfigFrom(cfg)).Evaluate(DetectorInput{
		History:   history,
		Durations: durations,
		Failures:  failures,
		Attempts:  attempts,
		Now:       sample.Timestamp,
	})
	s.setActive(alerts)

	if len(alerts) > 0 {
		s.setState(StateAlerting)
		s.dispatch(ctx, cfg, alerts)
	}
	s.history.Append(sample)

	resourceGauge.WithLabelValues(models.ResourceCPU).Set(sample.CPUPercent)
	resourceGauge.WithLabelValues(models.ResourceMemory).Set(sample.MemoryPercent)
	resourceGauge.WithLabelValues(models.ResourceDisk).Set(sample.DiskPercent)
	healthScoreGauge.Set(float64(s.Health().Score))
	ticksTotal.WithLabelValues("ok").Inc()

	s.logger.V(1).Info("tick complete", "cpu", sample.CPUPercent, "memory", sample.MemoryPercent, "disk", sample.DiskPercent, "alerts", len(alerts))
	s.setState(StateIdle)
	return nil
}

// dispatch collapses alerts already sent within the cooldown, logs the rest
// and hands them to subscribers
func (s *Sentinel) dispatch(ctx context.Context, cfg *config.Config, alerts []models.Alert) {
	now := s.clock.Now()
	admitted := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !s.dispatcher.Admit(a.Key(), now, cfg.Cooldown()) {
			alertsSuppressedTotal.WithLabelValues(a.Resource, string(a.Kind)).Inc()
			continue
		}
		admitted = append(admitted, a)
	}
	if len(admitted) == 0 {
		return
	}

	if s.alertLog != nil {
		if err := s.alertLog.Append(admitted...); err != nil {
			s.logger.Error(err, "could not record alerts", "count", len(admitted))
		}
	}
	for _, a := range admitted {
		s.logger.Info("alert", "resource", a.Resource, "kind", a.Kind, "tag", a.Tag, "severity", a.Severity, "value", a.ObservedValue, "threshold", a.Threshold)
		s.dispatcher.Dispatch(ctx, a, cfg.CallbackTimeout)
	}
}

// setActive replaces the set of currently firing alerts
func (s *Sentinel) setActive(alerts []models.Alert) {
	active := make(map[models.AlertKey]models.Alert, len(alerts))
	for _, a := range alerts {
		active[a.Key()] = a
	}
	s.activeMu.Lock()
	s.active = active
	s.activeMu.Unlock()
}

// ActiveAlerts returns the alerts that fired on the last evaluated tick
func (s *Sentinel) ActiveAlerts() []models.Alert {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	out := make([]models.Alert, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a)
	}
	return out
}

// Health scores the latest sample and active alerts. Safe from any state.
func (s *Sentinel) Health() models.HealthStatus {
	var latest *models.Sample
	if sample, ok := s.history.Latest(); ok {
		latest = &sample
	}
	status := ComputeHealth(s.Config(), latest, s.ActiveAlerts())
	status.State = s.State().String()
	return status
}

// RecordCycle feeds one event duration and outcome into the cycle-time and
// error-rate rules
func (s *Sentinel) RecordCycle(d time.Duration, err error) {
	cfg := s.Config()
	s.cyclesMu.Lock()
	defer s.cyclesMu.Unlock()
	s.durations = appendBounded(s.durations, d, cfg.HistorySize)
	s.outcomes = appendBounded(s.outcomes, err != nil, cfg.ErrorWindow)
}

func (s *Sentinel) cycleWindow() (durations []time.Duration, failures, attempts int) {
	s.cyclesMu.Lock()
	defer s.cyclesMu.Unlock()
	durations = append([]time.Duration(nil), s.durations...)
	for _, failed := range s.outcomes {
		if failed {
			failures++
		}
	}
	return durations, failures, len(s.outcomes)
}

func appendBounded[T any](buf []T, v T, limit int) []T {
	buf = append(buf, v)
	if limit > 0 && len(buf) > limit {
		buf = append(buf[:0], buf[len(buf)-limit:]...)
	}
	return buf
}

// RequestSnapshot archives payload before a caller mutates bufferID
func (s *Sentinel) RequestSnapshot(bufferID string, payload []byte) (models.BackupArchive, error) {
	if s.backups == nil {
		return models.BackupArchive{}, errNoBackups
	}
	return s.backups.Snapshot(bufferID, payload, nil)
}

// ProtectedMutate snapshots the mutator's current state, then applies the
// mutation and records how long it took and whether it failed. Nothing is
// applied if the snapshot fails.
func (s *Sentinel) ProtectedMutate(ctx context.Context, m Mutator) (models.BackupArchive, error) {
	payload, err := m.Current(ctx)
	if err != nil {
		return models.BackupArchive{}, fmt.Errorf("read %s: %w", m.BufferID(), err)
	}
	archive, err := s.RequestSnapshot(m.BufferID(), payload)
	if err != nil {
		return models.BackupArchive{}, fmt.Errorf("snapshot %s: %w", m.BufferID(), err)
	}

	started := time.Now()
	err = m.Apply(ctx)
	s.RecordCycle(time.Since(started), err)
	if err != nil {
		return archive, fmt.Errorf("apply %s: %w", m.BufferID(), err)
	}
	return archive, nil
}

// ApplyConfig swaps in a validated configuration and pushes the new limits
// to every collaborator. Evaluations see either the old or the new config,
// never a mix.
func (s *Sentinel) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := cfg.Clone()
	s.cfg.Store(next)

	s.history.Resize(next.HistorySize)
	if s.limiter != nil {
		s.limiter.SetCeiling(next.RateLimitPerMinute)
	}
	if s.store != nil {
		s.store.SetCapacity(next.MaxMemoryEntries)
	}
	if s.backups != nil {
		s.backups.SetRetention(next.MaxBackups, next.MinRetention)
	}
	s.logger.Info("configuration applied", "cpu_threshold", next.CPUThreshold, "memory_threshold", next.MemoryThreshold, "disk_threshold", next.DiskThreshold)
	return nil
}
