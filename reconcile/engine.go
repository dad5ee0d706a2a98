// Package reconcile decides, per user operation, whether to talk to the remote
// service or to capture the operation locally, and replays captured operations once
// the service is reachable again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c0deZ3R0/carsync/cache"
	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/model"
)

const tracerName = "github.com/c0deZ3R0/carsync/reconcile"

// DefaultMaxAttempts bounds how often a command the remote service rejects is
// replayed before it is dead-lettered.
const DefaultMaxAttempts = 5

var (
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("reconciliation engine is closed")

	// ErrPendingDependency marks a command held back because it references a
	// placeholder whose creating command has not reached the server yet.
	ErrPendingDependency = errors.New("depends on a command that has not reached the server")

	// ErrAbandonedDependency marks a command that references a placeholder whose
	// creating command was dead-lettered.
	ErrAbandonedDependency = errors.New("depends on a dead-lettered command")
)

// Engine runs one operation at a time: probe, then either execute remotely (and
// flush the queue) or capture the operation locally.
type Engine struct {
	gateway     Gateway
	queue       cache.Queue
	mirror      Mirror
	deadLetters cache.DeadLetters
	policy      FailurePolicy
	maxAttempts int
	newID       func() string
	now         func() time.Time
	logger      *logging.Logger
	tracer      trace.Tracer
	metrics     MetricsCollector

	mu         sync.Mutex
	resolved   map[string]string   // placeholder ID -> server ID
	unresolved map[string]struct{} // placeholders whose creating command is still queued
	abandoned  map[string]string   // placeholder ID -> why its creating command was dead-lettered
	closed     bool

	auto autoReplay
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = &logging.Logger{Logger: l}
		}
	}
}

// WithDeadLetters sets where dead-lettered commands go. Defaults to an in-memory store.
func WithDeadLetters(d cache.DeadLetters) Option {
	return func(e *Engine) {
		e.deadLetters = d
	}
}

// WithFailurePolicy sets how replay treats failed commands. Defaults to PolicyRequeue.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithMaxAttempts sets how many times a command the remote service rejects is
// replayed before it is dead-lettered regardless of policy. n <= 0 never gives up.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithIDGenerator sets the generator for command and placeholder IDs.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithClock sets the time source used to stamp commands.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to NoOpMetricsCollector.
func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New wires an Engine. The queue and mirror stay owned by the caller.
func New(gateway Gateway, queue cache.Queue, mirror Mirror, opts ...Option) *Engine {
	e := &Engine{
		gateway:     gateway,
		queue:       queue,
		mirror:      mirror,
		policy:      PolicyRequeue,
		maxAttempts: DefaultMaxAttempts,
		newID:       uuid.NewString,
		now:         time.Now,
		logger:      logging.WithComponent(logging.Component("reconcile")),
		tracer:      otel.Tracer(tracerName),
		metrics:     NoOpMetricsCollector{},
		resolved:    make(map[string]string),
		unresolved:  make(map[string]struct{}),
		abandoned:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deadLetters == nil {
		e.deadLetters = cache.NewMemoryDeadLetters()
	}
	return e
}

// Policy returns the configured failure policy.
func (e *Engine) Policy() FailurePolicy {
	return e.policy
}

// MaxAttempts returns the replay attempt limit; zero or less means unlimited.
func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

// DeadLetters returns the dead-letter store.
func (e *Engine) DeadLetters() cache.DeadLetters {
	return e.deadLetters
}

// CreateManufacturer creates a manufacturer named name.
func (e *Engine) CreateManufacturer(ctx context.Context, name string) (*Result, error) {
	return e.Do(ctx, model.CreateManufacturer, name)
}

// DeleteManufacturerByID deletes a manufacturer and its models.
func (e *Engine) DeleteManufacturerByID(ctx context.Context, id string) (*Result, error) {
	return e.Do(ctx, model.DeleteManufacturerByID, id)
}

// AddModelByManufacturerID adds a model named name to a manufacturer.
func (e *Engine) AddModelByManufacturerID(ctx context.Context, manufacturerID, name string) (*Result, error) {
	return e.Do(ctx, model.AddModelByManufacturerID, manufacturerID, name)
}

// ViewModelsByManufacturerID lists the models of a manufacturer.
func (e *Engine) ViewModelsByManufacturerID(ctx context.Context, manufacturerID string) (*Result, error) {
	return e.Do(ctx, model.ViewModelsByManufacturerID, manufacturerID)
}

// ListManufacturers lists every manufacturer.
func (e *Engine) ListManufacturers(ctx context.Context) (*Result, error) {
	return e.Do(ctx, model.ListManufacturers)
}

// Do runs op with args. When the remote service is unreachable the operation is
// queued, mirrored locally and answered with a synthesized payload.
func (e *Engine) Do(ctx context.Context, op model.OperationKind, args ...string) (res *Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile."+string(op),
		trace.WithAttributes(attribute.String("carsync.operation", string(op))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.RecordError(op, string(syncErrors.CodeOf(err)))
		} else if res != nil {
			span.SetAttributes(attribute.Bool("carsync.online", res.Online))
			e.metrics.RecordOperation(op, res.Online, time.Since(start))
		}
		span.End()
	}()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if err := op.ValidateArgs(args); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpExecute, err)
	}
	if placeholder, reason, ok := e.abandonedDependency(args); ok {
		return nil, syncErrors.NewValidationError(syncErrors.OpExecute,
			fmt.Errorf("%s %s: %w (%s)", op, placeholder, ErrAbandonedDependency, reason))
	}

	if !e.gateway.ProbeLiveness(ctx) {
		e.logger.Info("You are currently offline. Saving data locally...", "operation", op)
		return e.offline(ctx, op, args)
	}

	return e.online(ctx, op, args)
}

func (e *Engine) online(ctx context.Context, op model.OperationKind, args []string) (*Result, error) {
	// An argument created offline must reach the server before anything that uses it.
	var before *ReplayReport
	if _, ok := e.unresolvedDependency(args); ok {
		before = e.replayPending(ctx)
		if placeholder, reason, ok := e.abandonedDependency(args); ok {
			return nil, syncErrors.NewValidationError(syncErrors.OpExecute,
				fmt.Errorf("%s %s: %w (%s)", op, placeholder, ErrAbandonedDependency, reason))
		}
		if placeholder, ok := e.unresolvedDependency(args); ok {
			e.logger.Info("Operation depends on data not yet on the server, saving locally",
				"operation", op, "placeholder_id", placeholder)
			res, err := e.offline(ctx, op, args)
			if res != nil {
				res.Replay = before
			}
			return res, err
		}
	}

	exec := e.translate(args)

	payload, err := e.gateway.Execute(ctx, op, exec)
	if err != nil {
		if syncErrors.IsConnectivity(err) {
			e.logger.Warn("Remote service became unreachable, falling back to offline capture",
				"operation", op, "error", err)
			res, offErr := e.offline(ctx, op, args)
			if res != nil {
				res.Replay = before
			}
			return res, offErr
		}
		e.logger.LogError(ctx, err, "Remote operation failed", slog.String("operation", string(op)))
		return nil, err
	}

	e.afterSuccess(ctx, op, payload)
	result := &Result{Operation: op, Online: true, Payload: payload, Replay: before}
	if before == nil {
		result.Replay = e.replayPending(ctx)
	}
	return result, nil
}

// replayPending flushes the queue when it holds anything. Problems are logged,
// never returned to the operation that triggered the flush.
func (e *Engine) replayPending(ctx context.Context) *ReplayReport {
	pending, err := e.queue.Size(ctx)
	if err != nil {
		e.logger.LogError(ctx, err, "Could not inspect command queue")
		return nil
	}
	if pending == 0 {
		// nothing queued can still resolve a placeholder
		clear(e.unresolved)
		return nil
	}

	e.logger.Info("Server is online. Executing cached commands...", "pending", pending)
	report, err := e.replayLocked(ctx)
	if err != nil {
		e.logger.LogError(ctx, err, "Replay could not run")
		return nil
	}
	return report
}

// afterSuccess keeps the local mirror in step with a successful remote call.
func (e *Engine) afterSuccess(ctx context.Context, op model.OperationKind, payload any) {
	list, ok := payload.([]model.Manufacturer)
	if op != model.ListManufacturers || !ok {
		return
	}
	items := make([]any, 0, len(list))
	for _, m := range list {
		items = append(items, m)
	}
	if err := e.mirror.Replace(ctx, model.SnapshotEndpoint, items...); err != nil {
		e.logger.LogError(ctx, err, "Could not refresh manufacturer snapshot")
	}
}

func (e *Engine) offline(ctx context.Context, op model.OperationKind, args []string) (*Result, error) {
	cmd := model.Command{
		ID:         e.newID(),
		Operation:  op,
		Arguments:  append([]string(nil), args...),
		EnqueuedAt: e.now().UTC(),
	}

	var (
		payload any
		items   []any
	)
	switch op {
	case model.CreateManufacturer:
		m := model.Manufacturer{ID: e.newID(), Name: args[0]}
		cmd.PlaceholderID = m.ID
		payload, items = m, []any{m}
	case model.DeleteManufacturerByID:
		payload, items = model.DeleteResult{ManufacturerID: args[0]}, []any{model.EntityRef{ID: args[0]}}
	case model.AddModelByManufacturerID:
		c := model.CarModel{ID: e.newID(), Name: args[1], ManufacturerID: args[0]}
		cmd.PlaceholderID = c.ID
		payload, items = c, []any{c}
	case model.ViewModelsByManufacturerID:
		payload, items = e.localModels(ctx, args[0]), []any{model.EntityRef{ID: args[0]}}
	case model.ListManufacturers:
		payload = e.localManufacturers(ctx)
	}

	if err := e.queue.Enqueue(ctx, cmd); err != nil {
		e.logger.LogError(ctx, err, "Could not cache command", slog.String("command", cmd.String()))
		return nil, err
	}
	if cmd.PlaceholderID != "" {
		e.unresolved[cmd.PlaceholderID] = struct{}{}
	}
	e.logger.Debug("Command cached", "command", cmd.String(), "command_id", cmd.ID)

	if err := e.mirror.Write(ctx, op.Endpoint(), items...); err != nil {
		e.logger.LogError(ctx, err, "Could not save data locally")
	}

	return &Result{Operation: op, Online: false, Payload: payload}, nil
}

// Pending returns the number of queued commands.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	return e.queue.Size(ctx)
}

// Close stops auto replay and makes every further operation fail. The queue and
// mirror are left for their owner to close.
func (e *Engine) Close() error {
	if err := e.StopAutoReplay(); err != nil && !errors.Is(err, ErrAutoReplayStopped) {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

