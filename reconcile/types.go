package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c0deZ3R0/carsync/model"
)

// Gateway is the remote service as seen by the Engine.
type Gateway interface {
	// ProbeLiveness reports whether the remote service is reachable. It never errors.
	ProbeLiveness(ctx context.Context) bool

	// Execute runs op against the remote service.
	Execute(ctx context.Context, op model.OperationKind, args []string) (any, error)
}

// Mirror is the local copy of data captured offline.
type Mirror interface {
	Write(ctx context.Context, endpoint string, items ...any) error
	Replace(ctx context.Context, endpoint string, items ...any) error
	Read(ctx context.Context, endpoint string) ([]json.RawMessage, error)
	ReadInto(ctx context.Context, endpoint string, dst any) error
	Remove(ctx context.Context, endpoint string) error
}

// FailurePolicy decides what happens to a replayed command that fails.
type FailurePolicy int

const (
	// PolicyRequeue puts failed commands back on the queue, in their original order.
	PolicyRequeue FailurePolicy = iota
	// PolicyDeadLetter moves failed commands to the dead-letter store.
	PolicyDeadLetter
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyRequeue:
		return "requeue"
	case PolicyDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy accepts "requeue" and "dead_letter" (or "dead-letter").
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "requeue":
		return PolicyRequeue, nil
	case "dead_letter", "dead-letter", "deadletter":
		return PolicyDeadLetter, nil
	default:
		return PolicyRequeue, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Result is what an Engine operation hands back to the caller.
type Result struct {
	Operation model.OperationKind
	// Online is false when the result was synthesized locally.
	Online bool
	// Payload is the remote result, or the locally synthesized one when offline.
	Payload any
	// Replay is set when the call flushed queued commands.
	Replay *ReplayReport
}

// ReplayOutcome records what happened to one queued command.
type ReplayOutcome struct {
	Command      model.Command
	Payload      any
	Err          error
	Requeued     bool
	DeadLettered bool
	// Deferred is set when the command was not sent because a placeholder it
	// references has not reached the server yet.
	Deferred bool
}

// Succeeded reports whether the command ran without error.
func (o ReplayOutcome) Succeeded() bool {
	return o.Err == nil
}

// ReplayReport summarises one replay pass.
type ReplayReport struct {
	StartTime time.Time
	Duration  time.Duration

	Attempted    int
	Succeeded    int
	Failed       int
	Requeued     int
	DeadLettered int
	// Deferred counts commands held back behind an unresolved placeholder. They
	// are also counted in Requeued.
	Deferred int
	Outcomes []ReplayOutcome
}

// Clean reports whether every drained command was executed successfully.
func (r *ReplayReport) Clean() bool {
	return r != nil && r.Failed == 0 && r.Requeued == 0 && r.DeadLettered == 0
}

func (r *ReplayReport) String() string {
	if r == nil {
		return "no replay"
	}
	return fmt.Sprintf("replayed %d command(s): %d succeeded, %d failed, %d deferred, %d requeued, %d dead-lettered",
		r.Attempted, r.Succeeded, r.Failed, r.Deferred, r.Requeued, r.DeadLettered)
}
