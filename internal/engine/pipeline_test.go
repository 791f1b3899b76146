package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

type stubDiscovery struct {
	fn func(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error)
}

func (s stubDiscovery) Discover(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
	return s.fn(ctx, params, events)
}

type stubResearch struct {
	fn func(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error)
}

func (s stubResearch) Research(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
	return s.fn(ctx, params, events)
}

type stubWriter struct {
	fn func(ctx context.Context, params WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error)
}

func (s stubWriter) Draft(ctx context.Context, params WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
	return s.fn(ctx, params, events)
}

func companiesFixture(scores map[string]float64) []model.CompanyIntel {
	out := make([]model.CompanyIntel, 0, len(scores))
	for name, score := range scores {
		out = append(out, model.CompanyIntel{
			Name:     name,
			Homepage: "https://" + name + ".example.com",
			Score:    score,
		})
	}
	return out
}

func discoveryReturning(companies []model.CompanyIntel) stubDiscovery {
	return stubDiscovery{fn: func(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
		events <- model.NewEvent("", model.EventCompaniesFound, model.LevelInfo,
			fmt.Sprintf("found %d companies", len(companies)),
			model.CompaniesFoundPayload{Count: len(companies)})
		return &model.DiscoveryOutput{
			City:          params.City,
			Role:          params.Role,
			Depth:         string(params.Depth),
			Companies:     companies,
			ResumeExcerpt: params.ResumeExcerpt,
		}, nil
	}}
}

func writerReturning(subject string) stubWriter {
	return stubWriter{fn: func(ctx context.Context, params WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
		emails := make([]model.OutreachEmail, 0, len(params.Companies))
		for _, co := range params.Companies {
			events <- model.NewEvent("", model.EventEmailDrafted, model.LevelInfo,
				"drafted for "+co.Name, model.EmailDraftedPayload{Company: co.Name, Subject: subject})
			emails = append(emails, model.OutreachEmail{Company: co.Name, Subject: subject, Body: "hello"})
		}
		return &model.WriterOutput{Emails: emails}, nil
	}}
}

type pipelineFixture struct {
	controller *Controller
	store      *runstore.Store
	bus        *timeline.Bus
}

func newPipelineFixture(deps ControllerDeps) pipelineFixture {
	bus := timeline.NewBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := runstore.NewStore(bus, logger, time.Hour)

	deps.Store = store
	deps.Bus = bus
	deps.Executor = NewExecutor(store, bus, logger)
	deps.Logger = logger
	if deps.Discovery == nil {
		deps.Discovery = discoveryReturning(nil)
	}
	if deps.Research == nil {
		deps.Research = stubResearch{fn: func(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
			return &model.ResearchOutput{Companies: params.Companies}, nil
		}}
	}
	if deps.Writer == nil {
		deps.Writer = writerReturning("hello")
	}
	return pipelineFixture{controller: NewController(deps), store: store, bus: bus}
}

// waitFor polls the run until cond holds or the deadline passes.
func waitFor(t *testing.T, store *runstore.Store, runID uuid.UUID, cond func(*model.Run) bool) *model.Run {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.Get(context.Background(), runID)
		if err == nil && cond(run) {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach expected state in time")
	return nil
}

func terminal(run *model.Run) bool { return run.Terminal() }

func TestDiscoveryPipelineHappyPath(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80, "globex": 55})
	fix := newPipelineFixture(ControllerDeps{Discovery: discoveryReturning(companies)})

	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer", Depth: model.DepthLight,
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	run := waitFor(t, fix.store, runID, terminal)
	if run.Status != model.RunStatusCompleted || run.Phase != model.PhaseDiscoveryDone {
		t.Fatalf("expected completed/discovery_done, got %s/%s", run.Status, run.Phase)
	}
	disc := run.Outputs[model.StageDiscovery].Discovery
	if disc == nil || len(disc.Companies) != 2 {
		t.Fatalf("discovery output missing: %+v", disc)
	}

	history := fix.bus.History(runID)
	if len(history) == 0 {
		t.Fatal("empty timeline")
	}
	ends := 0
	for i, ev := range history {
		if ev.Seq != int64(i+1) {
			t.Fatalf("sequence gap at %d: %d", i, ev.Seq)
		}
		if ev.Type == model.EventEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one end event, got %d", ends)
	}
	if history[len(history)-1].Type != model.EventEnd {
		t.Fatal("end event must terminate the stream")
	}
}

func TestDiscoveryThenResearch(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80})
	research := stubResearch{fn: func(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
		augmented := make([]model.CompanyIntel, len(params.Companies))
		copy(augmented, params.Companies)
		for i := range augmented {
			augmented[i].Intel = &model.IntelBundle{
				News:       &model.Facet{Summary: "raised a round"},
				Confidence: 0.2,
			}
		}
		return &model.ResearchOutput{Companies: augmented, FacetsAsked: []model.FacetName{model.FacetNews}}, nil
	}}
	fix := newPipelineFixture(ControllerDeps{
		Discovery:       discoveryReturning(companies),
		Research:        research,
		ResearchEnabled: true,
	})

	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer", Depth: model.DepthStandard,
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	run := waitFor(t, fix.store, runID, terminal)
	if run.Phase != model.PhaseResearchDone {
		t.Fatalf("expected research_done, got %s", run.Phase)
	}
	res := run.Outputs[model.StageResearch].Research
	if res == nil || res.Companies[0].Intel == nil || res.Companies[0].Intel.News == nil {
		t.Fatal("research augmentation missing")
	}

	// One stream, one end, even with two stages on it.
	history := fix.bus.History(runID)
	ends := 0
	for _, ev := range history {
		if ev.Type == model.EventEnd {
			ends++
		}
	}
	if ends != 1 || history[len(history)-1].Type != model.EventEnd {
		t.Fatalf("expected single terminal end, got %d ends", ends)
	}
}

func TestResearchSkippedWhenDisabled(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80})
	wantResearch := true
	fix := newPipelineFixture(ControllerDeps{
		Discovery:       discoveryReturning(companies),
		ResearchEnabled: false,
	})

	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer", Depth: model.DepthLight, Research: &wantResearch,
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	run := waitFor(t, fix.store, runID, terminal)
	if run.Phase != model.PhaseDiscoveryDone {
		t.Fatalf("expected discovery_done (research skipped), got %s", run.Phase)
	}

	// The skip is explained on the timeline.
	degraded := false
	for _, ev := range fix.bus.History(runID) {
		if ev.Type == model.EventDegraded {
			degraded = true
		}
	}
	if !degraded {
		t.Fatal("expected a degraded event explaining the research skip")
	}
}

func TestDiscoveryFailureFailsRun(t *testing.T) {
	boom := errors.New("provider down")
	fix := newPipelineFixture(ControllerDeps{
		Discovery: stubDiscovery{fn: func(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
			return nil, boom
		}},
	})

	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer",
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	run := waitFor(t, fix.store, runID, terminal)
	if run.Status != model.RunStatusFailed || run.Phase != model.PhaseFailed {
		t.Fatalf("expected failed/failed, got %s/%s", run.Status, run.Phase)
	}
	if run.Error == nil || run.Error.Stage != model.StageDiscovery {
		t.Fatalf("failure not attributed to discovery: %+v", run.Error)
	}

	history := fix.bus.History(runID)
	// stage_failed is published, then the stream still terminates cleanly.
	var sawFailed bool
	for _, ev := range history {
		if ev.Type == model.EventStageFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatal("expected stage_failed event")
	}
	if history[len(history)-1].Type != model.EventEnd {
		t.Fatal("failed runs still end their stream")
	}
}

func TestResearchFailureKeepsDiscoveryOutput(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80})
	fix := newPipelineFixture(ControllerDeps{
		Discovery: discoveryReturning(companies),
		Research: stubResearch{fn: func(ctx context.Context, params ResearchParams, events chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
			return nil, errors.New("all facets unreachable")
		}},
		ResearchEnabled: true,
	})

	runID, _ := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer",
	})

	run := waitFor(t, fix.store, runID, terminal)
	if run.Status != model.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if run.Error == nil || run.Error.Stage != model.StageResearch {
		t.Fatalf("failure not attributed to research: %+v", run.Error)
	}
	if run.Outputs[model.StageDiscovery].Discovery == nil {
		t.Fatal("discovery output must survive a research failure")
	}
}

func startCompletedDiscovery(t *testing.T, fix pipelineFixture) uuid.UUID {
	t.Helper()
	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer", Depth: model.DepthLight, ResumeExcerpt: "Go, Python, Kubernetes",
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}
	waitFor(t, fix.store, runID, terminal)
	return runID
}

func TestWriterHappyPath(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80, "globex": 55, "initech": 30})
	fix := newPipelineFixture(ControllerDeps{
		Discovery: discoveryReturning(companies),
		Writer:    writerReturning("Quick question"),
	})
	runID := startCompletedDiscovery(t, fix)

	segmentID, err := fix.controller.StartWriter(context.Background(), runID, WriterRequest{
		Count: 2, MinMatch: 40,
	})
	if err != nil {
		t.Fatalf("start writer: %v", err)
	}
	if segmentID == runID || segmentID == uuid.Nil {
		t.Fatalf("expected fresh segment id, got %s", segmentID)
	}

	run := waitFor(t, fix.store, runID, func(r *model.Run) bool {
		return r.Phase == model.PhaseWriterDone && r.Terminal()
	})
	out := run.Outputs[model.StageWriter].Writer
	if out == nil || out.SegmentRunID != segmentID.String() {
		t.Fatalf("writer output missing segment id: %+v", out)
	}
	// Count 2 with minMatch 40: acme (80) and globex (55), best first.
	if len(out.Emails) != 2 || out.Emails[0].Company != "acme" || out.Emails[1].Company != "globex" {
		t.Fatalf("unexpected emails: %+v", out.Emails)
	}

	segment := fix.bus.History(segmentID)
	if len(segment) == 0 {
		t.Fatal("empty outreach segment")
	}
	if segment[len(segment)-1].Type != model.EventEnd {
		t.Fatal("outreach segment must end")
	}

	// The primary stream ended at discovery; writer events never leak there.
	for _, ev := range fix.bus.History(runID) {
		if ev.Type == model.EventEmailDrafted {
			t.Fatal("writer event leaked onto the primary timeline")
		}
	}
}

func TestWriterNoEligibleCompanies(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 65})
	fix := newPipelineFixture(ControllerDeps{Discovery: discoveryReturning(companies)})
	runID := startCompletedDiscovery(t, fix)

	before := len(fix.bus.History(runID))

	_, err := fix.controller.StartWriter(context.Background(), runID, WriterRequest{
		Count: 3, MinMatch: 80,
	})
	if !errors.Is(err, ErrNoEligibleCompanies) {
		t.Fatalf("expected ErrNoEligibleCompanies, got %v", err)
	}

	// Rejection publishes nothing: no writer events, no new segment.
	run, _ := fix.store.Get(context.Background(), runID)
	if run.Phase != model.PhaseDiscoveryDone {
		t.Fatalf("rejection must not move the run, got %s", run.Phase)
	}
	if _, ok := run.Outputs[model.StageWriter]; ok {
		t.Fatal("rejection must not record writer output")
	}
	if after := len(fix.bus.History(runID)); after != before {
		t.Fatalf("rejection published %d events", after-before)
	}
}

func TestWriterConflictsWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	fix := newPipelineFixture(ControllerDeps{
		Discovery: stubDiscovery{fn: func(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
			<-gate
			return &model.DiscoveryOutput{}, nil
		}},
	})

	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer",
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}
	waitFor(t, fix.store, runID, func(r *model.Run) bool {
		return r.Phase == model.PhaseDiscoveryRunning
	})

	_, err = fix.controller.StartWriter(context.Background(), runID, WriterRequest{Count: 1, MinMatch: 0})
	if !errors.Is(err, runstore.ErrConflict) {
		t.Fatalf("expected ErrConflict mid-pipeline, got %v", err)
	}

	close(gate)
	waitFor(t, fix.store, runID, terminal)
}

func TestWriterUnknownRun(t *testing.T) {
	fix := newPipelineFixture(ControllerDeps{})
	_, err := fix.controller.StartWriter(context.Background(), uuid.New(), WriterRequest{Count: 1})
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriterReinvocationOverwritesOutputKeepsHistory(t *testing.T) {
	companies := companiesFixture(map[string]float64{"acme": 80})
	fix := newPipelineFixture(ControllerDeps{Discovery: discoveryReturning(companies)})
	runID := startCompletedDiscovery(t, fix)

	first, err := fix.controller.StartWriter(context.Background(), runID, WriterRequest{Count: 1, MinMatch: 40})
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	waitFor(t, fix.store, runID, func(r *model.Run) bool { return r.Phase == model.PhaseWriterDone })
	firstHistory := fix.bus.History(first)

	second, err := fix.controller.StartWriter(context.Background(), runID, WriterRequest{Count: 1, MinMatch: 40})
	if err != nil {
		t.Fatalf("second writer: %v", err)
	}
	if second == first {
		t.Fatal("re-invocation must get a fresh segment")
	}
	run := waitFor(t, fix.store, runID, func(r *model.Run) bool {
		return r.Phase == model.PhaseWriterDone && r.Outputs[model.StageWriter].Writer != nil &&
			r.Outputs[model.StageWriter].Writer.SegmentRunID == second.String()
	})

	// Output overwritten; first segment history untouched.
	if run.Outputs[model.StageWriter].Writer.SegmentRunID != second.String() {
		t.Fatal("writer output not overwritten")
	}
	if got := fix.bus.History(first); len(got) != len(firstHistory) {
		t.Fatalf("earlier segment history mutated: %d -> %d events", len(firstHistory), len(got))
	}
	// Both invocations are on the stage history.
	writes := 0
	for _, st := range run.Stages {
		if st == model.StageWriter {
			writes++
		}
	}
	if writes != 2 {
		t.Fatalf("expected 2 writer invocations in stage history, got %d", writes)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	austin := companiesFixture(map[string]float64{"acme": 80})
	denver := companiesFixture(map[string]float64{"globex": 70})

	fix := newPipelineFixture(ControllerDeps{
		Discovery: stubDiscovery{fn: func(ctx context.Context, params DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
			companies := austin
			if params.City == "Denver" {
				companies = denver
			}
			events <- model.NewEvent("", model.EventCompaniesFound, model.LevelInfo, params.City, nil)
			return &model.DiscoveryOutput{City: params.City, Companies: companies}, nil
		}},
	})

	runA, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	runB, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{City: "Denver", Role: "AI Engineer"})
	if err != nil {
		t.Fatalf("start B: %v", err)
	}

	gotA := waitFor(t, fix.store, runA, terminal)
	gotB := waitFor(t, fix.store, runB, terminal)

	if gotA.Outputs[model.StageDiscovery].Discovery.City != "Austin" ||
		gotB.Outputs[model.StageDiscovery].Discovery.City != "Denver" {
		t.Fatal("runs swapped outputs")
	}
	for _, ev := range fix.bus.History(runA) {
		if ev.RunID != runA {
			t.Fatalf("run A timeline holds foreign event %s", ev.RunID)
		}
	}
	for _, ev := range fix.bus.History(runB) {
		if ev.RunID != runB {
			t.Fatalf("run B timeline holds foreign event %s", ev.RunID)
		}
	}
}

func TestDegradationsSurfaceAtStreamHead(t *testing.T) {
	fix := newPipelineFixture(ControllerDeps{})
	runID, err := fix.controller.StartDiscovery(context.Background(), DiscoveryRequest{
		City: "Austin", Role: "AI Engineer",
		Degradations: []model.DegradedPayload{{Subject: "resume", Reason: "resume token expired, proceeding without resume"}},
	})
	if err != nil {
		t.Fatalf("start discovery: %v", err)
	}
	waitFor(t, fix.store, runID, terminal)

	history := fix.bus.History(runID)
	if len(history) == 0 || history[0].Type != model.EventDegraded {
		t.Fatal("expected degraded event at the head of the stream")
	}
	if history[0].Agent != model.AgentSystem || history[0].Level != model.LevelWarn {
		t.Fatalf("degraded event mis-tagged: %s/%s", history[0].Agent, history[0].Level)
	}
}
