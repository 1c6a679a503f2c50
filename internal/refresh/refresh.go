// Package refresh re-runs reconciliation on a cron schedule so the
// materialization window follows the calendar without user interaction.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "housecal/internal/log"
	"housecal/internal/schedule"
)

// Reconciler is the part of the engine the refresher drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (schedule.ReconcileResult, error)
}

// DefaultTimeout bounds one scheduled pass.
const DefaultTimeout = 2 * time.Minute

// Refresher runs Reconcile on every tick of a standard cron spec.
type Refresher struct {
	spec    string
	sched   cron.Schedule
	loc     *time.Location
	target  Reconciler
	hooks   []func()
	timeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun time.Time
	lastErr error
}

type Option func(*Refresher)

// WithHook adds a function called before each pass, e.g. to drop feed caches.
func WithHook(fn func()) Option {
	return func(r *Refresher) { r.hooks = append(r.hooks, fn) }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New validates spec ("5 * * * *", "@hourly", ...) and returns a stopped
// refresher evaluating it in loc.
func New(spec string, loc *time.Location, target Reconciler, opts ...Option) (*Refresher, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	r := &Refresher{
		spec:    spec,
		sched:   sched,
		loc:     loc,
		target:  target,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Next returns the first tick after t.
func (r *Refresher) Next(t time.Time) time.Time {
	return r.sched.Next(t.In(r.loc))
}

// Start schedules passes until ctx is done. It returns immediately.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	c := cron.New(cron.WithLocation(r.loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(r.sched, cron.FuncJob(func() { r.RunOnce(ctx) }))
	c.Start()
	r.cron = c
	appLog.Info("refresh scheduled", "spec", r.spec, "next", r.Next(time.Now()).Format(time.RFC3339))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh stopped")
}

// RunOnce performs one pass now.
func (r *Refresher) RunOnce(ctx context.Context) (schedule.ReconcileResult, error) {
	for _, hook := range r.hooks {
		hook()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.target.Reconcile(ctx)

	r.mu.Lock()
	r.lastRun, r.lastErr = start, err
	r.mu.Unlock()

	if err != nil {
		appLog.Error("refresh pass failed", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return res, err
	}
	appLog.Info("refresh pass done",
		"today", res.Today, "created", res.Created, "occurrences", res.Occurrences,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Status reports when the last pass started and how it ended.
func (r *Refresher) Status() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErr
}
