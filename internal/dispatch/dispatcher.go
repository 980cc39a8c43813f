// Package dispatch routes queued actions to the backend mutation they represent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-sync/internal/models"
)

var (
	// ErrUnknownAction indicates no handler is registered for the (type, action) pair.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidPayload indicates the payload could not be decoded or failed validation.
	ErrInvalidPayload = errors.New("invalid action payload")
)

// DefaultTimeout bounds a single handler invocation when none is configured.
const DefaultTimeout = 10 * time.Second

// HandlerFunc performs the backend mutation for one action.
type HandlerFunc func(ctx context.Context, action models.QueuedAction) error

// Route identifies a handler.
type Route struct {
	Type   models.ActionType `json:"type"`
	Action string            `json:"action"`
}

func (r Route) String() string {
	return string(r.Type) + "/" + r.Action
}

// Error reports a failed dispatch together with the route that failed.
type Error struct {
	Type   models.ActionType
	Action string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s/%s: %v", e.Type, e.Action, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Executor runs a single action. It never retries.
type Executor interface {
	Execute(ctx context.Context, action models.QueuedAction) error
}

// Dispatcher is the (type, action) handler registry.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Route]HandlerFunc
	timeout  time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewDispatcher constructs an empty registry. A non-positive timeout falls back
// to DefaultTimeout.
func NewDispatcher(timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		handlers: make(map[Route]HandlerFunc),
		timeout:  timeout,
		logger:   logger.With().Str("component", "action_dispatcher").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-sync/internal/dispatch"),
	}
}

// Register binds handler to (actionType, action).
func (d *Dispatcher) Register(actionType models.ActionType, action string, handler HandlerFunc) error {
	if !actionType.Valid() {
		return fmt.Errorf("register %s/%s: unsupported action type", actionType, action)
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("register %s: action name is required", actionType)
	}
	if handler == nil {
		return fmt.Errorf("register %s/%s: handler is nil", actionType, action)
	}

	route := Route{Type: actionType, Action: action}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[route]; exists {
		return fmt.Errorf("register %s: route already registered", route)
	}
	d.handlers[route] = handler
	return nil
}

// Has reports whether a handler exists for the pair.
func (d *Dispatcher) Has(actionType models.ActionType, action string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[Route{Type: actionType, Action: action}]
	return ok
}

// Routes lists registered routes sorted by type then action.
func (d *Dispatcher) Routes() []Route {
	d.mu.RLock()
	routes := make([]Route, 0, len(d.handlers))
	for route := range d.handlers {
		routes = append(routes, route)
	}
	d.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Type != routes[j].Type {
			return routes[i].Type < routes[j].Type
		}
		return routes[i].Action < routes[j].Action
	})
	return routes
}

// Validate fails when an action type of the closed set has no handler at all.
func (d *Dispatcher) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	covered := make(map[models.ActionType]bool, len(models.ActionTypes))
	for route := range d.handlers {
		covered[route.Type] = true
	}

	var missing []string
	for _, actionType := range models.ActionTypes {
		if !covered[actionType] {
			missing = append(missing, string(actionType))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handlers registered for action types: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Execute runs the handler for action under a bounded timeout.
func (d *Dispatcher) Execute(ctx context.Context, action models.QueuedAction) error {
	route := Route{Type: action.Type, Action: action.Action}

	d.mu.RLock()
	handler, ok := d.handlers[route]
	d.mu.RUnlock()
	if !ok {
		return &Error{Type: action.Type, Action: action.Action, Err: ErrUnknownAction}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.execute", trace.WithAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.type", string(action.Type)),
		attribute.String("action.name", action.Action),
		attribute.Int("action.retry_count", action.RetryCount),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	err := d.invoke(ctx, handler, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		d.logger.Debug().
			Err(err).
			Str("action_id", action.ID).
			Str("route", route.String()).
			Dur("elapsed", time.Since(started)).
			Msg("action dispatch failed")
		return &Error{Type: action.Type, Action: action.Action, Err: err}
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, action models.QueuedAction) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler(ctx, action)
}
