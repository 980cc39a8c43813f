// Package syncer drains the durable queue through the dispatcher when the backend
// is reachable.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/dispatch"
	"github.com/noah-isme/gema-sync/internal/models"
	"github.com/noah-isme/gema-sync/internal/observability"
	"github.com/noah-isme/gema-sync/internal/queue"
)

// DefaultMaxRetries is the failure count at which an action is dropped.
const DefaultMaxRetries = 3

// Triggers recorded on reports.
const (
	TriggerManual   = "manual"
	TriggerOnline   = "online"
	TriggerInterval = "interval"
)

// Skip reasons.
const (
	SkipOffline    = "offline"
	SkipInProgress = "in_progress"
)

// Connectivity answers whether a drain may start.
type Connectivity interface {
	IsOnline() bool
}

// OnlineNotifier delivers offline→online transitions.
type OnlineNotifier interface {
	OnOnline(listener connectivity.Listener) func()
}

// Result summarises one drain. Failed includes dropped actions.
type Result struct {
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Dropped int    `json:"dropped"`
	Total   int    `json:"total"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// DroppedAction describes an action removed after exhausting its retries.
type DroppedAction struct {
	ID         string            `json:"id"`
	Type       models.ActionType `json:"type"`
	Action     string            `json:"action"`
	RetryCount int               `json:"retry_count"`
	LastError  string            `json:"last_error"`
}

// Report is published after every drain that processed at least one action.
type Report struct {
	Result
	Trigger        string          `json:"trigger"`
	DroppedActions []DroppedAction `json:"dropped_actions,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Reporter receives drain reports. Implementations must not block.
type Reporter interface {
	Report(ctx context.Context, report Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, report Report)

func (f ReporterFunc) Report(ctx context.Context, report Report) {
	f(ctx, report)
}

// Options configures an Orchestrator.
type Options struct {
	MaxRetries int
	// Interval between periodic drains started by Start; zero disables the ticker.
	Interval time.Duration
}

// Orchestrator replays queued actions. At most one drain runs at a time.
type Orchestrator struct {
	store      queue.Store
	executor   dispatch.Executor
	conn       Connectivity
	maxRetries int
	interval   time.Duration
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	running atomic.Bool
	nudges  chan string

	// unsaved holds retry counts the store failed to persist, keyed by action id.
	// Only touched by the drain holding running.
	unsaved map[string]int

	mu        sync.RWMutex
	reporters []Reporter
	last      *Report
}

// NewOrchestrator wires the drain loop to its collaborators.
func NewOrchestrator(store queue.Store, executor dispatch.Executor, conn Connectivity, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Orchestrator{
		store:      store,
		executor:   executor,
		conn:       conn,
		maxRetries: opts.MaxRetries,
		interval:   opts.Interval,
		logger:     logger.With().Str("component", "sync_orchestrator").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-sync/internal/syncer"),
		now:        time.Now,
		nudges:     make(chan string, 1),
		unsaved:    make(map[string]int),
	}
}

// AddReporter registers a report consumer.
func (o *Orchestrator) AddReporter(reporter Reporter) {
	if reporter == nil {
		return
	}
	o.mu.Lock()
	o.reporters = append(o.reporters, reporter)
	o.mu.Unlock()
}

// MaxRetries returns the configured retry ceiling.
func (o *Orchestrator) MaxRetries() int {
	return o.maxRetries
}

// InProgress reports whether a drain is currently running.
func (o *Orchestrator) InProgress() bool {
	return o.running.Load()
}

// LastReport returns the most recent report, if any drain has processed actions.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// SyncQueuedActions drains the queue once.
func (o *Orchestrator) SyncQueuedActions(ctx context.Context) (Result, error) {
	return o.Sync(ctx, TriggerManual)
}

// Sync drains the queue once, tagging the report with trigger. It returns a
// skipped result without touching the store when offline or when another drain
// is running.
func (o *Orchestrator) Sync(ctx context.Context, trigger string) (Result, error) {
	if !o.conn.IsOnline() {
		observability.SyncCycles().WithLabelValues("skipped_offline").Inc()
		return Result{Skipped: true, Reason: SkipOffline}, nil
	}
	if !o.running.CompareAndSwap(false, true) {
		observability.SyncCycles().WithLabelValues("skipped_in_progress").Inc()
		return Result{Skipped: true, Reason: SkipInProgress}, nil
	}
	defer o.running.Store(false)

	ctx, span := o.tracer.Start(ctx, "sync.drain", trace.WithAttributes(attribute.String("sync.trigger", trigger)))
	defer span.End()

	started := o.now()
	snapshot, err := o.store.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list queued actions failed")
		observability.SyncCycles().WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("list queued actions: %w", err)
	}
	if len(snapshot) == 0 {
		observability.QueueDepth().Set(0)
		observability.SyncCycles().WithLabelValues("empty").Inc()
		return Result{}, nil
	}

	o.forgetUnsaved(snapshot)

	report := Report{Trigger: trigger, StartedAt: started}
	for _, action := range snapshot {
		if ctx.Err() != nil {
			o.logger.Warn().Int("processed", report.Total).Int("snapshot", len(snapshot)).Msg("sync interrupted by shutdown")
			break
		}
		report.Total++
		o.replay(ctx, action, &report)
	}
	report.FinishedAt = o.now()

	span.SetAttributes(
		attribute.Int("sync.total", report.Total),
		attribute.Int("sync.success", report.Success),
		attribute.Int("sync.failed", report.Failed),
		attribute.Int("sync.dropped", report.Dropped),
	)
	observability.SyncDuration().Observe(report.FinishedAt.Sub(started).Seconds())
	observability.SyncCycles().WithLabelValues("completed").Inc()
	if count, err := o.store.Count(ctx); err == nil {
		observability.QueueDepth().Set(float64(count))
	}

	o.logger.Info().
		Str("trigger", trigger).
		Int("total", report.Total).
		Int("success", report.Success).
		Int("failed", report.Failed).
		Int("dropped", report.Dropped).
		Msg("queue drain finished")

	o.publish(ctx, report)
	return report.Result, nil
}

func (o *Orchestrator) replay(ctx context.Context, action models.QueuedAction, report *Report) {
	log := o.logger.With().
		Str("action_id", action.ID).
		Str("route", action.Route()).
		Logger()

	if count, ok := o.unsaved[action.ID]; ok && count > action.RetryCount {
		action.RetryCount = count
	}

	// An action at the ceiling already failed its last attempt; a previous drain
	// could not remove it.
	if action.RetryCount >= o.maxRetries {
		report.Failed++
		o.drop(ctx, action, report, log)
		return
	}

	execErr := o.executor.Execute(ctx, action)
	if execErr == nil {
		if err := o.store.Remove(ctx, action.ID); err != nil && !errors.Is(err, queue.ErrActionNotFound) {
			log.Warn().Err(err).Msg("action applied but could not be removed from queue")
		}
		delete(o.unsaved, action.ID)
		report.Success++
		observability.SyncActionOutcomes().WithLabelValues(string(action.Type), "success").Inc()
		return
	}

	action.RetryCount++
	action.LastError = execErr.Error()
	report.Failed++

	if action.RetryCount >= o.maxRetries {
		o.drop(ctx, action, report, log)
		return
	}
	o.retain(ctx, action, log)
	log.Debug().Err(execErr).Int("retry_count", action.RetryCount).Msg("action retained for retry")
}

// drop removes an exhausted action. The action is only reported as dropped once
// it is gone from the store; otherwise it is retained and removal is retried on
// the next drain.
func (o *Orchestrator) drop(ctx context.Context, action models.QueuedAction, report *Report, log zerolog.Logger) {
	if err := o.store.Remove(ctx, action.ID); err != nil && !errors.Is(err, queue.ErrActionNotFound) {
		log.Warn().Err(err).Int("retry_count", action.RetryCount).Msg("failed to remove exhausted action")
		o.retain(ctx, action, log)
		return
	}
	delete(o.unsaved, action.ID)

	report.Dropped++
	report.DroppedActions = append(report.DroppedActions, DroppedAction{
		ID:         action.ID,
		Type:       action.Type,
		Action:     action.Action,
		RetryCount: action.RetryCount,
		LastError:  action.LastError,
	})
	observability.SyncActionOutcomes().WithLabelValues(string(action.Type), "dropped").Inc()
	log.Error().Str("last_error", action.LastError).Int("retry_count", action.RetryCount).Msg("action dropped after exhausting retries")
}

func (o *Orchestrator) retain(ctx context.Context, action models.QueuedAction, log zerolog.Logger) {
	if err := o.store.Update(ctx, action); err != nil {
		log.Warn().Err(err).Int("retry_count", action.RetryCount).Msg("failed to persist retry count")
		o.unsaved[action.ID] = action.RetryCount
	} else {
		delete(o.unsaved, action.ID)
	}
	observability.SyncActionOutcomes().WithLabelValues(string(action.Type), "retained").Inc()
}

func (o *Orchestrator) forgetUnsaved(snapshot []models.QueuedAction) {
	if len(o.unsaved) == 0 {
		return
	}
	present := make(map[string]struct{}, len(snapshot))
	for _, action := range snapshot {
		present[action.ID] = struct{}{}
	}
	for id := range o.unsaved {
		if _, ok := present[id]; !ok {
			delete(o.unsaved, id)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, report Report) {
	o.mu.Lock()
	o.last = &report
	reporters := append([]Reporter(nil), o.reporters...)
	o.mu.Unlock()

	for _, reporter := range reporters {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					o.logger.Error().Interface("panic", recovered).Msg("sync reporter panicked")
				}
			}()
			reporter.Report(ctx, report)
		}()
	}
}

// Nudge asks the running loop for a drain. It never blocks; nudges coalesce.
func (o *Orchestrator) Nudge(trigger string) {
	select {
	case o.nudges <- trigger:
	default:
	}
}

// TriggerOnOnline subscribes the loop to online transitions and returns the
// unsubscribe function.
func (o *Orchestrator) TriggerOnOnline(notifier OnlineNotifier) func() {
	return notifier.OnOnline(func(connectivity.Transition) {
		o.Nudge(TriggerOnline)
	})
}

// Start runs the drain loop until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		tick = ticker.C
		go func() {
			<-ctx.Done()
			ticker.Stop()
		}()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				o.logger.Info().Msg("sync loop stopped")
				return
			case trigger := <-o.nudges:
				o.run(ctx, trigger)
			case <-tick:
				o.run(ctx, TriggerInterval)
			}
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, trigger string) {
	if _, err := o.Sync(ctx, trigger); err != nil {
		o.logger.Error().Err(err).Str("trigger", trigger).Msg("queue drain failed")
	}
}
