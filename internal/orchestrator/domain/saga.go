package domain

import (
	"context"
	"time"
)

// Step is one unit of saga work. Compensate undoes a successful Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

type SagaState string

const (
	StateStarted      SagaState = "STARTED"
	StateStepDone     SagaState = "STEP_DONE"
	StateCompensating SagaState = "COMPENSATING"
	StateCompleted    SagaState = "COMPLETED"
	StateFailed       SagaState = "FAILED"
)

// Entry is one append-only row of the saga log.
type Entry struct {
	SagaID    string
	Saga      string
	State     SagaState
	Step      string
	Payload   string
	Errors    []string
	TraceID   string
	SpanID    string
	UpdatedAt time.Time
}

type Log interface {
	Save(ctx context.Context, e Entry) error
}
