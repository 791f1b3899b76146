// Package engine orchestrates pipeline runs: the stage executor is the
// fault isolation boundary around agent code, the fan-out coordinator bounds
// intra-stage parallelism, and the controller drives the run state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/telemetry"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// agentEventBuffer sizes the queue between an agent and the timeline
// forwarder. The forwarder drains into the non-blocking bus, so the buffer
// only smooths bursts from fan-out workers.
const agentEventBuffer = 64

// AgentFunc is one stage's agent logic. Progress events go into the events
// queue; the executor forwards them to the run's timeline, tagging untagged
// events with the stage's agent. The queue must not be used after returning.
type AgentFunc func(ctx context.Context, events chan<- model.TimelineEvent) (model.StageResult, error)

// Executor runs stage agents with uniform failure handling. An agent error
// or panic degrades exactly one run: the failure is published to the
// timeline, the run is marked failed, and a StageError is returned. The
// process and all other runs are unaffected.
type Executor struct {
	store  *runstore.Store
	bus    *timeline.Bus
	logger *slog.Logger

	stageDuration metric.Float64Histogram
	stageFailures metric.Int64Counter
}

// NewExecutor creates a stage executor.
func NewExecutor(store *runstore.Store, bus *timeline.Bus, logger *slog.Logger) *Executor {
	meter := telemetry.Meter("tegami/engine")
	stageDur, _ := meter.Float64Histogram("tegami.stage.duration",
		metric.WithDescription("Time to run one pipeline stage (ms)"),
		metric.WithUnit("ms"),
	)
	stageFail, _ := meter.Int64Counter("tegami.stage.failures",
		metric.WithDescription("Stage invocations that ended in failure"),
	)
	return &Executor{
		store:         store,
		bus:           bus,
		logger:        logger,
		stageDuration: stageDur,
		stageFailures: stageFail,
	}
}

// RunStage invokes agent for one stage of runID, streaming its events onto
// the timelineID segment. On success the result is recorded in the run
// store (which appends the stage's completion event) and returned. On
// failure the run is marked failed and the returned error is a *StageError
// wrapping the cause.
//
// timelineID equals runID except for outreach re-invocations, which stream
// into their own segment.
func (x *Executor) RunStage(ctx context.Context, runID, timelineID uuid.UUID, stage model.Stage, agent AgentFunc) (model.StageResult, error) {
	events := make(chan model.TimelineEvent, agentEventBuffer)

	var forward sync.WaitGroup
	forward.Add(1)
	go func() {
		defer forward.Done()
		for ev := range events {
			if ev.Agent == "" {
				ev.Agent = model.AgentFor(stage)
			}
			x.bus.Publish(timelineID, ev)
		}
	}()

	x.bus.Publish(timelineID, model.NewEvent(
		model.AgentFor(stage),
		model.EventStageStarted,
		model.LevelInfo,
		fmt.Sprintf("%s stage started", stage),
		model.StageStartedPayload{Stage: stage},
	))

	start := time.Now()
	result, err := x.invoke(ctx, agent, events)
	x.stageDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("stage", string(stage))))

	// Flush the agent's events before publishing the outcome, so the
	// timeline reads in causal order.
	close(events)
	forward.Wait()

	if err != nil {
		x.stageFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", string(stage))))
		x.logger.Error("executor: stage failed",
			"run_id", runID, "stage", stage, "error", err)

		x.bus.Publish(timelineID, model.NewEvent(
			model.AgentSystem,
			model.EventStageFailed,
			model.LevelError,
			fmt.Sprintf("%s stage failed: %v", stage, err),
			model.StageFailedPayload{Stage: stage, ErrorType: "STAGE_FAILED", ErrorMessage: err.Error()},
		))
		if markErr := x.store.MarkFailed(ctx, runID, model.RunError{
			Stage:   stage,
			Code:    "STAGE_FAILED",
			Message: err.Error(),
		}); markErr != nil {
			x.logger.Error("executor: mark failed", "run_id", runID, "error", markErr)
		}
		return model.StageResult{}, &StageError{Stage: stage, Cause: err}
	}

	if err := x.store.Update(ctx, runID, stage, result); err != nil {
		x.logger.Error("executor: record stage output",
			"run_id", runID, "stage", stage, "error", err)
		return model.StageResult{}, &StageError{Stage: stage, Cause: err}
	}
	return result, nil
}

// invoke runs the agent with panic containment.
func (x *Executor) invoke(ctx context.Context, agent AgentFunc, events chan<- model.TimelineEvent) (result model.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return agent(ctx, events)
}
