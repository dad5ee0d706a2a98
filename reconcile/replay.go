package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/model"
)

// offlineWriteEndpoints are cleared from the mirror once a replay confirms that
// everything captured offline reached the server.
var offlineWriteEndpoints = []model.OperationKind{
	model.CreateManufacturer,
	model.DeleteManufacturerByID,
	model.AddModelByManufacturerID,
}

// Replay probes the remote service and, when it is reachable, flushes the queue.
// An unreachable service yields a connectivity error and leaves the queue intact.
func (e *Engine) Replay(ctx context.Context) (report *ReplayReport, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "reconcile.replay")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if report != nil {
			span.SetAttributes(
				attribute.Int("carsync.replay.attempted", report.Attempted),
				attribute.Int("carsync.replay.failed", report.Failed),
				attribute.Int("carsync.replay.deferred", report.Deferred),
			)
		}
		span.End()
	}()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if !e.gateway.ProbeLiveness(ctx) {
		return nil, syncErrors.NewConnectivityError(syncErrors.OpReplay, errors.New("remote service is unreachable"))
	}

	err = e.logger.LogOperation(ctx, logging.Operation("replay"), func() error {
		var replayErr error
		report, replayErr = e.replayLocked(ctx)
		return replayErr
	})
	return report, err
}

// replayLocked drains the queue and executes each command in order. Failures never
// stop the pass; they are handled according to the failure policy. A command that
// references a placeholder whose creator has not succeeded is held back rather
// than sent. e.mu must be held.
func (e *Engine) replayLocked(ctx context.Context) (*ReplayReport, error) {
	report := &ReplayReport{StartTime: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartTime)
		if len(report.Outcomes) > 0 {
			e.metrics.RecordReplay(report)
		}
	}()

	cmds, err := e.queue.Drain(ctx)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return report, nil
	}

	// covers a queue written by an earlier process
	for _, cmd := range cmds {
		if cmd.PlaceholderID != "" {
			e.unresolved[cmd.PlaceholderID] = struct{}{}
		}
	}

	var requeue []model.Command
	for i, cmd := range cmds {
		if ctx.Err() != nil {
			e.logger.Warn("Replay interrupted, requeueing remaining commands",
				"remaining", len(cmds)-i, "error", ctx.Err())
			requeue = append(requeue, e.retarget(cmds[i:])...)
			break
		}

		cmd.Arguments = e.translate(cmd.Arguments)

		if placeholder, reason, ok := e.abandonedDependency(cmd.Arguments); ok {
			cause := fmt.Errorf("%s: %w (%s)", placeholder, ErrAbandonedDependency, reason)
			outcome := ReplayOutcome{Command: cmd, Err: commandError(cmd, cause)}
			if e.deadLetter(ctx, cmd, cause.Error()) {
				outcome.DeadLettered = true
				report.DeadLettered++
			} else {
				outcome.Requeued = true
				requeue = append(requeue, cmd)
			}
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		if placeholder, ok := e.unresolvedDependency(cmd.Arguments); ok {
			report.Deferred++
			requeue = append(requeue, cmd)
			report.Outcomes = append(report.Outcomes, ReplayOutcome{
				Command:  cmd,
				Err:      commandError(cmd, fmt.Errorf("%s: %w", placeholder, ErrPendingDependency)),
				Requeued: true,
				Deferred: true,
			})
			e.logger.Info("Cached command held back until its dependency reaches the server",
				"command", cmd.String(), "command_id", cmd.ID, "placeholder_id", placeholder)
			continue
		}

		report.Attempted++
		payload, execErr := e.gateway.Execute(ctx, cmd.Operation, cmd.Arguments)
		if execErr == nil {
			report.Succeeded++
			e.resolve(cmd, payload)
			e.afterSuccess(ctx, cmd.Operation, payload)
			report.Outcomes = append(report.Outcomes, ReplayOutcome{Command: cmd, Payload: payload})
			if cmd.Operation.IsRead() {
				e.logger.Debug("Cached read executed, result not delivered", "command", cmd.String(), "command_id", cmd.ID)
			} else {
				e.logger.Info("Cached command executed", "command", cmd.String(), "command_id", cmd.ID)
			}
			continue
		}

		report.Failed++
		outcome := ReplayOutcome{Command: cmd, Err: commandError(cmd, execErr)}
		e.logger.LogError(ctx, outcome.Err, "Cached command failed")

		if syncErrors.IsConnectivity(execErr) {
			// The remote went away again: keep this command and everything after it.
			outcome.Requeued = true
			report.Outcomes = append(report.Outcomes, outcome)
			requeue = append(requeue, cmd)
			requeue = append(requeue, e.retarget(cmds[i+1:])...)
			break
		}

		cmd.Attempts++
		outcome.Command = cmd
		exhausted := e.maxAttempts > 0 && cmd.Attempts >= e.maxAttempts
		if e.policy == PolicyDeadLetter || exhausted {
			reason := execErr.Error()
			if e.policy != PolicyDeadLetter {
				reason = fmt.Sprintf("%s (gave up after %d attempts)", reason, cmd.Attempts)
			}
			if e.deadLetter(ctx, cmd, reason) {
				outcome.DeadLettered = true
				report.DeadLettered++
			} else {
				outcome.Requeued = true
				requeue = append(requeue, cmd)
			}
		} else {
			outcome.Requeued = true
			requeue = append(requeue, cmd)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	// requeueing must survive a cancelled caller
	keep := context.WithoutCancel(ctx)
	for _, cmd := range requeue {
		if err := e.queue.Enqueue(keep, cmd); err != nil {
			e.logger.LogError(ctx, err, "Could not requeue command",
				slog.String("command", cmd.String()), slog.String("command_id", cmd.ID))
			if cmd.PlaceholderID != "" {
				delete(e.unresolved, cmd.PlaceholderID)
				e.abandoned[cmd.PlaceholderID] = "creating command lost while requeueing"
			}
			continue
		}
		report.Requeued++
	}

	if report.Clean() {
		for _, op := range offlineWriteEndpoints {
			if err := e.mirror.Remove(ctx, op.Endpoint()); err != nil {
				e.logger.LogError(ctx, err, "Could not clear replayed offline data")
			}
		}
	}

	e.logger.Info("Cached commands executed",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"requeued", report.Requeued,
		"dead_lettered", report.DeadLettered)
	return report, nil
}

func commandError(cmd model.Command, cause error) error {
	return syncErrors.NewReplayError(cause).
		WithMetadata("command_id", cmd.ID).
		WithMetadata("command", cmd.String())
}

// deadLetter records cmd and abandons its placeholder. It reports false when the
// dead-letter store refused the command.
func (e *Engine) deadLetter(ctx context.Context, cmd model.Command, reason string) bool {
	if err := e.deadLetters.Record(ctx, cmd, reason); err != nil {
		e.logger.LogError(ctx, err, "Could not record dead letter, requeueing instead",
			slog.String("command_id", cmd.ID))
		return false
	}
	if cmd.PlaceholderID != "" {
		delete(e.unresolved, cmd.PlaceholderID)
		e.abandoned[cmd.PlaceholderID] = reason
	}
	e.logger.Warn("Cached command dead-lettered", "command", cmd.String(), "command_id", cmd.ID, "reason", reason)
	return true
}

// resolve remembers the server ID assigned to a command created under a placeholder.
func (e *Engine) resolve(cmd model.Command, payload any) {
	if cmd.PlaceholderID == "" {
		return
	}
	delete(e.unresolved, cmd.PlaceholderID)

	var id string
	switch p := payload.(type) {
	case model.Manufacturer:
		id = p.ID
	case model.CarModel:
		id = p.ID
	}
	if id == "" {
		e.abandoned[cmd.PlaceholderID] = "server response carried no id"
		e.logger.Warn("Placeholder could not be resolved", "placeholder_id", cmd.PlaceholderID, "command_id", cmd.ID)
		return
	}
	e.resolved[cmd.PlaceholderID] = id
	e.logger.Debug("Placeholder resolved", "placeholder_id", cmd.PlaceholderID, "server_id", id)
}

// translate returns args with every known placeholder replaced by its server ID.
func (e *Engine) translate(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if id, ok := e.resolved[a]; ok {
			out[i] = id
		} else {
			out[i] = a
		}
	}
	return out
}

func (e *Engine) retarget(cmds []model.Command) []model.Command {
	out := make([]model.Command, 0, len(cmds))
	for _, c := range cmds {
		c.Arguments = e.translate(c.Arguments)
		out = append(out, c)
	}
	return out
}

// unresolvedDependency returns the first argument that is a placeholder still
// waiting for its creating command.
func (e *Engine) unresolvedDependency(args []string) (string, bool) {
	for _, a := range args {
		if _, ok := e.unresolved[a]; ok {
			return a, true
		}
	}
	return "", false
}

// abandonedDependency returns the first argument whose creating command was
// dead-lettered, with the reason it was.
func (e *Engine) abandonedDependency(args []string) (string, string, bool) {
	for _, a := range args {
		if reason, ok := e.abandoned[a]; ok {
			return a, reason, true
		}
	}
	return "", "", false
}
