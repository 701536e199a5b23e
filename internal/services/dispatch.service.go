package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/models"

	"github.com/go-logr/logr"
)

// MatchAll subscribes a callback to every alert
const MatchAll = "*"

// AlertCallback receives a dispatched alert. The context carries the
// per-callback deadline.
type AlertCallback func(ctx context.Context, alert models.Alert) error

type subscription struct {
	id    uint64
	match string
	cb    AlertCallback
}

func (s subscription) matches(a models.Alert) bool {
	switch s.match {
	case "", MatchAll:
		return true
	case a.Resource, string(a.Kind):
		return true
	}
	return a.Tag != "" && s.match == a.Tag
}

// Dispatcher owns the callback registry and the cooldown table. Each has
// its own lock and neither is held while a callback runs.
type Dispatcher struct {
	subsMu sync.RWMutex
	subs   []subscription
	nextID uint64

	sentMu   sync.Mutex
	lastSent map[models.AlertKey]time.Time

	logger logr.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger logr.Logger) *Dispatcher {
	return &Dispatcher{
		lastSent: make(map[models.AlertKey]time.Time),
		logger:   logger.WithName("dispatch"),
	}
}

// Register subscribes cb to alerts whose resource, kind or tag equals match
// ("*" for all). The returned func unsubscribes.
func (d *Dispatcher) Register(match string, cb AlertCallback) func() {
	d.subsMu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, match: match, cb: cb})
	d.subsMu.Unlock()

	return func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Admit reports whether an alert with this key may be dispatched at now,
// and if so starts a new cooldown window for it.
func (d *Dispatcher) Admit(key models.AlertKey, now time.Time, cooldown time.Duration) bool {
	d.sentMu.Lock()
	defer d.sentMu.Unlock()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	d.lastSent[key] = now
	return true
}

// Dispatch delivers an alert to every matching callback in registration
// order. A failing, panicking or slow callback is logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert, timeout time.Duration) {
	d.subsMu.RLock()
	targets := make([]subscription, 0, len(d.subs))
	for _, s := range d.subs {
		if s.matches(alert) {
			targets = append(targets, s)
		}
	}
	d.subsMu.RUnlock()

	alertsDispatchedTotal.WithLabelValues(alert.Resource, string(alert.Kind)).Inc()
	for _, s := range targets {
		if err := d.invoke(ctx, s, alert, timeout); err != nil {
			d.logger.Error(err, "alert callback failed", "subscription", s.id, "match", s.match, "resource", alert.Resource, "kind", alert.Kind)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, s subscription, alert models.Alert, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("callback panicked: %v", r)
			}
		}()
		done <- s.cb(cctx, alert)
	}()

	select {
	case err := <-done:
		if err != nil {
			callbackFailuresTotal.WithLabelValues("error").Inc()
		}
		return err
	case <-cctx.Done():
		callbackFailuresTotal.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w after %s", ErrCallbackTimeout, timeout)
	}
}
