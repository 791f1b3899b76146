package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/telemetry"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// DefaultMinMatch is the outreach eligibility threshold applied when the
// caller does not supply one.
const DefaultMinMatch = 40.0

// DiscoveryParams is the input to a discovery agent.
type DiscoveryParams struct {
	City          string
	Role          string
	Depth         model.Depth
	ResumeExcerpt string
}

// ResearchParams is the input to a research agent.
type ResearchParams struct {
	Companies  []model.CompanyIntel
	CharBudget int // total summary budget across all facets, in characters
}

// WriterParams is the input to a writer agent. Companies is the eligible
// set, best match first; Role is the run's requested role.
type WriterParams struct {
	Companies     []model.CompanyIntel
	Role          string
	ResumeExcerpt string
	Model         string // optional model override
}

// DiscoveryAgent finds and scores companies for a role in a city.
type DiscoveryAgent interface {
	Discover(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error)
}

// ResearchAgent augments companies with intelligence facets.
type ResearchAgent interface {
	Research(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error)
}

// WriterAgent drafts outreach emails for the given companies.
type WriterAgent interface {
	Draft(ctx context.Context, params WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error)
}

// DiscoveryRequest starts a run.
type DiscoveryRequest struct {
	City          string
	Role          string
	Depth         model.Depth
	Research      *bool // nil = server default
	ResumeExcerpt string

	// Degradations are surfaced as System events at the head of the run's
	// timeline (e.g. a resume token that could not be honored).
	Degradations []model.DegradedPayload
}

// WriterRequest starts an outreach invocation against an existing run.
type WriterRequest struct {
	Count    int
	MinMatch float64
	Model    string
}

// ControllerDeps wires a Controller.
type ControllerDeps struct {
	Store           *runstore.Store
	Bus             *timeline.Bus
	Executor        *Executor
	Discovery       DiscoveryAgent
	Research        ResearchAgent
	Writer          WriterAgent
	ResearchEnabled bool
	Logger          *slog.Logger
}

// Controller drives the per-run state machine:
//
//	created -> discovery_running -> discovery_done
//	        -> (research_running -> research_done)?   research is optional
//	        -> writer_running -> writer_done           via StartWriter
//
// with any running phase able to fall to failed. Stages within a run are
// sequential; distinct runs are fully independent.
type Controller struct {
	store           *runstore.Store
	bus             *timeline.Bus
	executor        *Executor
	discovery       DiscoveryAgent
	research        ResearchAgent
	writer          WriterAgent
	researchEnabled bool
	logger          *slog.Logger

	runsStarted metric.Int64Counter
}

// NewController creates a pipeline controller.
func NewController(deps ControllerDeps) *Controller {
	meter := telemetry.Meter("tegami/engine")
	started, _ := meter.Int64Counter("tegami.runs.started",
		metric.WithDescription("Pipeline runs started, by kind"),
	)
	return &Controller{
		store:           deps.Store,
		bus:             deps.Bus,
		executor:        deps.Executor,
		discovery:       deps.Discovery,
		research:        deps.Research,
		writer:          deps.Writer,
		researchEnabled: deps.ResearchEnabled,
		logger:          deps.Logger,
		runsStarted:     started,
	}
}

// StartDiscovery creates a run and launches its discovery (and optional
// research) stages in the background. It returns as soon as the run is
// subscribable; clients follow the timeline or poll the snapshot.
func (c *Controller) StartDiscovery(ctx context.Context, req DiscoveryRequest) (uuid.UUID, error) {
	run, err := c.store.Create(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	c.bus.OpenSegment(run.ID)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tegami.run_id", run.ID.String()),
		attribute.String("tegami.depth", string(req.Depth)),
	)
	c.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "discovery")))

	c.logger.Info("pipeline: discovery started",
		"run_id", run.ID, "city", req.City, "role", req.Role, "depth", req.Depth)

	go c.runDiscovery(context.WithoutCancel(ctx), run.ID, req)
	return run.ID, nil
}

func (c *Controller) runDiscovery(ctx context.Context, runID uuid.UUID, req DiscoveryRequest) {
	defer c.bus.EndSegment(runID)

	for _, d := range req.Degradations {
		c.bus.Publish(runID, model.NewEvent(
			model.AgentSystem, model.EventDegraded, model.LevelWarn, d.Reason, d))
	}

	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseCreated}, model.PhaseDiscoveryRunning); err != nil {
		c.logger.Error("pipeline: enter discovery", "run_id", runID, "error", err)
		return
	}

	result, err := c.executor.RunStage(ctx, runID, runID, model.StageDiscovery,
		func(ctx context.Context, events chan<- model.TimelineEvent) (model.StageResult, error) {
			out, err := c.discovery.Discover(ctx, DiscoveryParams{
				City:          req.City,
				Role:          req.Role,
				Depth:         req.Depth,
				ResumeExcerpt: req.ResumeExcerpt,
			}, events)
			if err != nil {
				return model.StageResult{}, err
			}
			return model.StageResult{Stage: model.StageDiscovery, Discovery: out}, nil
		})
	if err != nil {
		return // the executor marked the run failed
	}
	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseDiscoveryRunning}, model.PhaseDiscoveryDone); err != nil {
		c.logger.Error("pipeline: leave discovery", "run_id", runID, "error", err)
		return
	}

	companies := result.Discovery.Companies
	wantResearch := req.Research == nil || *req.Research
	switch {
	case wantResearch && !c.researchEnabled:
		if req.Research != nil {
			c.publishDegraded(runID, "research", "research is disabled by configuration")
		}
	case wantResearch && len(companies) == 0:
		c.publishDegraded(runID, "research", "research skipped: no companies found")
	case wantResearch:
		if !c.runResearch(ctx, runID, req.Depth, companies) {
			return
		}
	}

	if err := c.store.MarkCompleted(ctx, runID); err != nil {
		c.logger.Error("pipeline: mark completed", "run_id", runID, "error", err)
		return
	}
	c.logger.Info("pipeline: run completed", "run_id", runID, "companies", len(companies))
}

// runResearch executes the research stage. Returns false if the stage
// failed and the pipeline should stop.
func (c *Controller) runResearch(ctx context.Context, runID uuid.UUID, depth model.Depth, companies []model.CompanyIntel) bool {
	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseDiscoveryDone}, model.PhaseResearchRunning); err != nil {
		c.logger.Error("pipeline: enter research", "run_id", runID, "error", err)
		return false
	}

	_, err := c.executor.RunStage(ctx, runID, runID, model.StageResearch,
		func(ctx context.Context, events chan<- model.TimelineEvent) (model.StageResult, error) {
			out, err := c.research.Research(ctx, ResearchParams{
				Companies:  companies,
				CharBudget: depth.Preset().ContentChars,
			}, events)
			if err != nil {
				return model.StageResult{}, err
			}
			return model.StageResult{Stage: model.StageResearch, Research: out}, nil
		})
	if err != nil {
		return false
	}
	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseResearchRunning}, model.PhaseResearchDone); err != nil {
		c.logger.Error("pipeline: leave research", "run_id", runID, "error", err)
		return false
	}
	return true
}

// StartWriter launches an outreach invocation against runID. The run must
// hold a discovery (or research) result with at least one company at or
// above req.MinMatch, and must not be mid-pipeline. The returned segment id
// is a fresh timeline; re-invocations overwrite the run's writer output but
// leave earlier segments' history intact.
func (c *Controller) StartWriter(ctx context.Context, runID uuid.UUID, req WriterRequest) (uuid.UUID, error) {
	run, err := c.store.Get(ctx, runID)
	if err != nil {
		return uuid.Nil, err
	}

	// Fast-fail before eligibility so a mid-pipeline run reads as a
	// conflict, not as "nothing eligible yet". The TransitionPhase below is
	// the authoritative, race-safe gate.
	switch run.Phase {
	case model.PhaseDiscoveryDone, model.PhaseResearchDone, model.PhaseWriterDone:
	default:
		return uuid.Nil, fmt.Errorf("run %s is %s, not ready for outreach: %w", runID, run.Phase, runstore.ErrConflict)
	}

	companies := latestCompanies(run)
	eligible := eligibleCompanies(companies, req.MinMatch)
	if len(eligible) == 0 {
		return uuid.Nil, fmt.Errorf("no company scored at least %.0f: %w", req.MinMatch, ErrNoEligibleCompanies)
	}

	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseDiscoveryDone, model.PhaseResearchDone, model.PhaseWriterDone},
		model.PhaseWriterRunning); err != nil {
		return uuid.Nil, err
	}

	segmentID := uuid.New()
	c.bus.OpenSegment(segmentID)
	if err := c.store.AttachSegment(ctx, runID, segmentID); err != nil {
		return uuid.Nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tegami.run_id", runID.String()),
		attribute.String("tegami.segment_id", segmentID.String()),
	)
	c.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "outreach")))

	count := req.Count
	if count > len(eligible) {
		count = len(eligible)
	}
	picked := eligible[:count]

	var role, excerpt string
	if disc, ok := run.Outputs[model.StageDiscovery]; ok && disc.Discovery != nil {
		role = disc.Discovery.Role
		excerpt = disc.Discovery.ResumeExcerpt
	}

	c.logger.Info("pipeline: outreach started",
		"run_id", runID, "segment_id", segmentID, "companies", len(picked))

	go c.runWriter(context.WithoutCancel(ctx), runID, segmentID, writerInput{
		companies: picked, role: role, excerpt: excerpt, model: req.Model,
	})
	return segmentID, nil
}

// writerInput bundles the context runWriter carries into the background
// goroutine.
type writerInput struct {
	companies []model.CompanyIntel
	role      string
	excerpt   string
	model     string
}

func (c *Controller) runWriter(ctx context.Context, runID, segmentID uuid.UUID, in writerInput) {
	defer c.bus.EndSegment(segmentID)

	result, err := c.executor.RunStage(ctx, runID, segmentID, model.StageWriter,
		func(ctx context.Context, events chan<- model.TimelineEvent) (model.StageResult, error) {
			out, err := c.writer.Draft(ctx, WriterParams{
				Companies:     in.companies,
				Role:          in.role,
				ResumeExcerpt: in.excerpt,
				Model:         in.model,
			}, events)
			if err != nil {
				return model.StageResult{}, err
			}
			out.SegmentRunID = segmentID.String()
			return model.StageResult{Stage: model.StageWriter, Writer: out}, nil
		})
	if err != nil {
		return
	}
	if err := c.store.TransitionPhase(ctx, runID,
		[]model.Phase{model.PhaseWriterRunning}, model.PhaseWriterDone); err != nil {
		c.logger.Error("pipeline: leave writer", "run_id", runID, "error", err)
		return
	}
	if err := c.store.MarkCompleted(ctx, runID); err != nil {
		c.logger.Error("pipeline: mark completed", "run_id", runID, "error", err)
		return
	}
	c.logger.Info("pipeline: outreach completed",
		"run_id", runID, "segment_id", segmentID, "emails", len(result.Writer.Emails))
}

// Snapshot returns a copy of the run's current state.
func (c *Controller) Snapshot(ctx context.Context, runID uuid.UUID) (*model.Run, error) {
	return c.store.Get(ctx, runID)
}

func (c *Controller) publishDegraded(runID uuid.UUID, subject, reason string) {
	c.bus.Publish(runID, model.NewEvent(
		model.AgentSystem, model.EventDegraded, model.LevelWarn, reason,
		model.DegradedPayload{Subject: subject, Reason: reason}))
}

// latestCompanies returns the most enriched company set the run holds:
// research output when present, discovery output otherwise.
func latestCompanies(run *model.Run) []model.CompanyIntel {
	if res, ok := run.Outputs[model.StageResearch]; ok && res.Research != nil {
		return res.Research.Companies
	}
	if disc, ok := run.Outputs[model.StageDiscovery]; ok && disc.Discovery != nil {
		return disc.Discovery.Companies
	}
	return nil
}

// eligibleCompanies filters by minMatch and orders best-first with a
// deterministic tie-break on name, so writer input does not depend on
// fan-out completion order.
func eligibleCompanies(companies []model.CompanyIntel, minMatch float64) []model.CompanyIntel {
	eligible := make([]model.CompanyIntel, 0, len(companies))
	for _, co := range companies {
		if co.Score >= minMatch {
			eligible = append(eligible, co)
		}
	}
	slices.SortFunc(eligible, func(a, b model.CompanyIntel) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return eligible
}
