package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-saga/internal/orchestrator/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator runs saga steps in order and compensates completed steps in
// reverse when one fails.
type Coordinator struct {
	log     *slog.Logger
	sagaLog domain.Log
	tracer  trace.Tracer
}

func NewCoordinator(log *slog.Logger, sagaLog domain.Log) *Coordinator {
	return &Coordinator{
		log:     log,
		sagaLog: sagaLog,
		tracer:  otel.Tracer("saga-coordinator"),
	}
}

// Run returns the error of the failing step. Compensation failures are logged
// and recorded but never replace it.
func (c *Coordinator) Run(ctx context.Context, sagaID, saga, payload string, steps []domain.Step) error {
	ctx, span := c.tracer.Start(ctx, "saga."+saga, trace.WithAttributes(attribute.String("saga.id", sagaID)))
	defer span.End()

	c.record(ctx, domain.Entry{SagaID: sagaID, Saga: saga, State: domain.StateStarted, Payload: payload})

	done := make([]domain.Step, 0, len(steps))
	for _, step := range steps {
		if err := c.execute(ctx, step); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, step.Name())
			c.log.WarnContext(ctx, "saga step failed, compensating",
				"saga", saga, "saga_id", sagaID, "step", step.Name(), "err", err)

			errs := []string{fmt.Sprintf("%s: %v", step.Name(), err)}
			c.record(ctx, domain.Entry{SagaID: sagaID, Saga: saga, State: domain.StateCompensating, Step: step.Name(), Errors: errs})
			errs = append(errs, c.rollback(ctx, saga, sagaID, done)...)
			c.record(ctx, domain.Entry{SagaID: sagaID, Saga: saga, State: domain.StateFailed, Step: step.Name(), Errors: errs})
			return err
		}
		done = append(done, step)
		c.record(ctx, domain.Entry{SagaID: sagaID, Saga: saga, State: domain.StateStepDone, Step: step.Name()})
	}

	c.record(ctx, domain.Entry{SagaID: sagaID, Saga: saga, State: domain.StateCompleted})
	return nil
}

func (c *Coordinator) execute(ctx context.Context, step domain.Step) error {
	ctx, span := c.tracer.Start(ctx, "saga.step."+step.Name())
	defer span.End()
	if err := step.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute")
		return err
	}
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, saga, sagaID string, done []domain.Step) []string {
	// compensation must finish even when the caller has gone away
	ctx = context.WithoutCancel(ctx)

	var errs []string
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if err := step.Compensate(ctx); err != nil {
			c.log.ErrorContext(ctx, "saga compensation failed",
				"saga", saga, "saga_id", sagaID, "step", step.Name(), "err", err)
			errs = append(errs, fmt.Sprintf("compensate %s: %v", step.Name(), err))
		}
	}
	return errs
}

func (c *Coordinator) record(ctx context.Context, e domain.Entry) {
	if c.sagaLog == nil {
		return
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}
	e.UpdatedAt = time.Now().UTC()
	if err := c.sagaLog.Save(context.WithoutCancel(ctx), e); err != nil {
		c.log.WarnContext(ctx, "saga log write failed", "saga_id", e.SagaID, "state", e.State, "err", err)
	}
}
