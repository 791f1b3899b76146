package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/ratelimit"
	"github.com/ashita-ai/tegami/internal/resume"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/server"
	"github.com/ashita-ai/tegami/internal/timeline"
)

type stubDiscovery struct {
	mu     sync.Mutex
	params []engine.DiscoveryParams
	fn     func(ctx context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error)
}

func (s *stubDiscovery) Discover(ctx context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
	s.mu.Lock()
	s.params = append(s.params, params)
	s.mu.Unlock()
	return s.fn(ctx, params, events)
}

func (s *stubDiscovery) captured() []engine.DiscoveryParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.DiscoveryParams(nil), s.params...)
}

func defaultDiscovery() *stubDiscovery {
	return &stubDiscovery{fn: func(_ context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
		events <- model.NewEvent(model.AgentDiscovery, model.EventCompaniesFound, model.LevelInfo,
			"found 2 companies", model.CompaniesFoundPayload{Count: 2})
		return &model.DiscoveryOutput{
			City:  params.City,
			Role:  params.Role,
			Depth: string(params.Depth),
			Companies: []model.CompanyIntel{
				{Name: "acme", Homepage: "https://acme.example.com", Score: 80},
				{Name: "globex", Homepage: "https://globex.example.com", Score: 55},
			},
			ResumeExcerpt: params.ResumeExcerpt,
		}, nil
	}}
}

type stubWriter struct {
	fn func(ctx context.Context, params engine.WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error)
}

func (s *stubWriter) Draft(ctx context.Context, params engine.WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
	return s.fn(ctx, params, events)
}

func defaultWriter() *stubWriter {
	return &stubWriter{fn: func(_ context.Context, params engine.WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
		emails := make([]model.OutreachEmail, 0, len(params.Companies))
		for _, co := range params.Companies {
			events <- model.NewEvent(model.AgentWriter, model.EventEmailDrafted, model.LevelInfo,
				"drafted for "+co.Name, model.EmailDraftedPayload{Company: co.Name, Subject: "hello"})
			emails = append(emails, model.OutreachEmail{Company: co.Name, Subject: "hello", Body: "hi"})
		}
		return &model.WriterOutput{Emails: emails}, nil
	}}
}

type passthroughResearch struct{}

func (passthroughResearch) Research(_ context.Context, params engine.ResearchParams, _ chan<- model.TimelineEvent) (*model.ResearchOutput, error) {
	return &model.ResearchOutput{Companies: params.Companies}, nil
}

type serverFixture struct {
	ts        *httptest.Server
	discovery *stubDiscovery
	bus       *timeline.Bus
}

type fixtureOptions struct {
	discovery *stubDiscovery
	writer    *stubWriter
	limiter   ratelimit.Limiter
}

func newServerFixture(t *testing.T, opts fixtureOptions) *serverFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := timeline.NewBus()
	store := runstore.NewStore(bus, logger, time.Hour)

	resumes, err := resume.NewStore("", "", time.Hour, logger)
	require.NoError(t, err)

	saved, err := savedstore.Open(filepath.Join(t.TempDir(), "saved.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = saved.Close() })

	discovery := opts.discovery
	if discovery == nil {
		discovery = defaultDiscovery()
	}
	writer := opts.writer
	if writer == nil {
		writer = defaultWriter()
	}

	controller := engine.NewController(engine.ControllerDeps{
		Store:     store,
		Bus:       bus,
		Executor:  engine.NewExecutor(store, bus, logger),
		Discovery: discovery,
		Research:  passthroughResearch{},
		Writer:    writer,
		Logger:    logger,
	})

	srv := server.New(server.ServerConfig{
		Controller:          controller,
		Bus:                 bus,
		Runs:                store,
		Resumes:             resumes,
		Saved:               saved,
		Limiter:             opts.limiter,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		ResumeMaxBytes:      1 << 20,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, discovery: discovery, bus: bus}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

// decodeData unwraps the response envelope into target and checks the meta
// block is populated.
func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Meta.RequestID)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Error model.ErrorDetail `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error
}

func startRun(t *testing.T, fix *serverFixture, body model.StartDiscoveryRequest) string {
	t.Helper()
	resp := postJSON(t, fix.ts.URL+"/v1/discovery", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out model.StartDiscoveryResponse
	decodeData(t, resp, &out)
	require.NotEmpty(t, out.RunID)
	return out.RunID
}

func waitForRun(t *testing.T, fix *serverFixture, runID string, cond func(model.RunSnapshot) bool) model.RunSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fix.ts.URL + "/v1/runs/" + runID)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusOK {
			var snap model.RunSnapshot
			decodeData(t, resp, &snap)
			if cond(snap) {
				return snap
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach expected state in time")
	return model.RunSnapshot{}
}

func completed(snap model.RunSnapshot) bool { return snap.Status == model.RunStatusCompleted }

type sseFrame struct {
	event string
	data  string
}

// readSSE consumes one stream until the server closes it, returning the
// event frames in order. Keepalive comments are dropped.
func readSSE(t *testing.T, url string, timeout time.Duration) []sseFrame {
	t.Helper()
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var (
		frames  []sseFrame
		current sseFrame
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.event != "" || current.data != "" {
				frames = append(frames, current)
				current = sseFrame{}
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestHealthEndpoint(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	resp, err := http.Get(fix.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "connected", health.SavedStore)
	assert.Equal(t, 0, health.ActiveRuns)
}

func TestDiscoveryRunToCompletion(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	runID := startRun(t, fix, model.StartDiscoveryRequest{
		City: "Austin", Role: "AI Engineer", Depth: "light",
	})

	snap := waitForRun(t, fix, runID, completed)
	assert.Equal(t, model.PhaseDiscoveryDone, snap.Phase)
	disc := snap.Outputs[model.StageDiscovery].Discovery
	require.NotNil(t, disc)
	assert.Equal(t, "Austin", disc.City)
	assert.Len(t, disc.Companies, 2)

	// A completed run's snapshot is stable across fetches.
	again := waitForRun(t, fix, runID, completed)
	assert.Equal(t, snap, again)
}

func TestDiscoveryValidation(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	resp := postJSON(t, fix.ts.URL+"/v1/discovery", map[string]string{"city": "Austin"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)

	resp = postJSON(t, fix.ts.URL+"/v1/discovery", map[string]any{
		"city": "Austin", "role": "AI Engineer", "bogus": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetRunErrors(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	resp, err := http.Get(fix.ts.URL + "/v1/runs/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(fix.ts.URL + "/v1/runs/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, resp).Code)

	resp, err = http.Get(fix.ts.URL + "/v1/runs/" + uuid.NewString() + "/timeline")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTimelineReplayAfterCompletion(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})
	runID := startRun(t, fix, model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	waitForRun(t, fix, runID, completed)

	url := fix.ts.URL + "/v1/runs/" + runID + "/timeline"
	frames := readSSE(t, url, 3*time.Second)
	require.NotEmpty(t, frames)
	assert.Equal(t, string(model.EventStageStarted), frames[0].event)
	assert.Equal(t, string(model.EventEnd), frames[len(frames)-1].event)

	for i, frame := range frames {
		var ev model.TimelineEvent
		require.NoError(t, json.Unmarshal([]byte(frame.data), &ev), "frame %d", i)
		assert.Equal(t, int64(i+1), ev.Seq, "sequence must be contiguous")
		assert.Equal(t, string(ev.Type), frame.event)
	}

	// Re-subscribing replays the identical history.
	again := readSSE(t, url, 3*time.Second)
	assert.Equal(t, frames, again)
}

func TestTimelineStreamsLive(t *testing.T) {
	gate := make(chan struct{})
	disc := &stubDiscovery{fn: func(_ context.Context, params engine.DiscoveryParams, events chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
		events <- model.NewEvent(model.AgentDiscovery, model.EventSearchPass, model.LevelInfo,
			"running role query", model.SearchPassPayload{Query: "ai engineer"})
		<-gate
		return &model.DiscoveryOutput{City: params.City, Role: params.Role}, nil
	}}
	fix := newServerFixture(t, fixtureOptions{discovery: disc})

	runID := startRun(t, fix, model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	waitForRun(t, fix, runID, func(snap model.RunSnapshot) bool {
		return snap.Phase == model.PhaseDiscoveryRunning
	})

	// Release the agent shortly after the subscription below begins, so the
	// stream serves replayed history first and live events after.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(gate)
	}()

	frames := readSSE(t, fix.ts.URL+"/v1/runs/"+runID+"/timeline", 5*time.Second)
	require.NotEmpty(t, frames)
	assert.Equal(t, string(model.EventEnd), frames[len(frames)-1].event)

	var sawPass bool
	for _, frame := range frames {
		if frame.event == string(model.EventSearchPass) {
			sawPass = true
		}
	}
	assert.True(t, sawPass, "agent event missing from stream")
}

func TestOutreachFlow(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})
	runID := startRun(t, fix, model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	waitForRun(t, fix, runID, completed)

	resp := postJSON(t, fix.ts.URL+"/v1/runs/"+runID+"/outreach", model.StartWriterRequest{Count: 1})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out model.StartWriterResponse
	decodeData(t, resp, &out)
	assert.Equal(t, runID, out.RunID)
	require.NotEmpty(t, out.SegmentRunID)
	assert.NotEqual(t, runID, out.SegmentRunID)

	snap := waitForRun(t, fix, runID, func(snap model.RunSnapshot) bool {
		return snap.Phase == model.PhaseWriterDone && snap.Status == model.RunStatusCompleted
	})
	writerOut := snap.Outputs[model.StageWriter].Writer
	require.NotNil(t, writerOut)
	require.Len(t, writerOut.Emails, 1)
	assert.Equal(t, "acme", writerOut.Emails[0].Company, "best match drafts first")

	// The outreach segment is its own stream with its own terminal end.
	frames := readSSE(t, fix.ts.URL+"/v1/runs/"+out.SegmentRunID+"/timeline", 3*time.Second)
	require.NotEmpty(t, frames)
	assert.Equal(t, string(model.EventEnd), frames[len(frames)-1].event)
	var drafted bool
	for _, frame := range frames {
		if frame.event == string(model.EventEmailDrafted) {
			drafted = true
		}
	}
	assert.True(t, drafted)
}

func TestOutreachRejections(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})
	runID := startRun(t, fix, model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	waitForRun(t, fix, runID, completed)

	// Threshold above every score: the rejection is the API error itself.
	high := 99.0
	resp := postJSON(t, fix.ts.URL+"/v1/runs/"+runID+"/outreach",
		model.StartWriterRequest{Count: 2, MinMatch: &high})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNoEligibleCompanies, decodeError(t, resp).Code)

	// No writer events were published anywhere for the rejection.
	for _, ev := range fix.bus.History(uuid.MustParse(runID)) {
		assert.NotEqual(t, model.EventEmailDrafted, ev.Type)
	}

	resp = postJSON(t, fix.ts.URL+"/v1/runs/"+uuid.NewString()+"/outreach",
		model.StartWriterRequest{Count: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, fix.ts.URL+"/v1/runs/"+runID+"/outreach",
		model.StartWriterRequest{Count: 99})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestOutreachConflictMidPipeline(t *testing.T) {
	gate := make(chan struct{})
	disc := &stubDiscovery{fn: func(_ context.Context, params engine.DiscoveryParams, _ chan<- model.TimelineEvent) (*model.DiscoveryOutput, error) {
		<-gate
		return &model.DiscoveryOutput{City: params.City, Role: params.Role}, nil
	}}
	fix := newServerFixture(t, fixtureOptions{discovery: disc})

	runID := startRun(t, fix, model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"})
	waitForRun(t, fix, runID, func(snap model.RunSnapshot) bool {
		return snap.Phase == model.PhaseDiscoveryRunning
	})

	resp := postJSON(t, fix.ts.URL+"/v1/runs/"+runID+"/outreach", model.StartWriterRequest{Count: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrCodeConflict, decodeError(t, resp).Code)

	close(gate)
	waitForRun(t, fix, runID, completed)
}

func TestResumeUploadFeedsDiscovery(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})
	text := "Go engineer, seven years of distributed systems."

	resp, err := http.Post(fix.ts.URL+"/v1/resume", "text/plain", strings.NewReader(text))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var upload model.UploadResumeResponse
	decodeData(t, resp, &upload)
	require.NotEmpty(t, upload.Token)
	assert.Equal(t, len(text), upload.Chars)
	assert.Empty(t, upload.Filename)

	runID := startRun(t, fix, model.StartDiscoveryRequest{
		City: "Austin", Role: "AI Engineer", ResumeToken: upload.Token,
	})
	waitForRun(t, fix, runID, completed)

	params := fix.discovery.captured()
	require.Len(t, params, 1)
	assert.Equal(t, text, params[0].ResumeExcerpt)
}

func TestResumeUploadMultipart(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "resume.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Plain text resume body."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(fix.ts.URL+"/v1/resume", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var upload model.UploadResumeResponse
	decodeData(t, resp, &upload)
	assert.Equal(t, "resume.txt", upload.Filename)
	assert.NotEmpty(t, upload.Token)
}

func TestResumeUploadUnparseable(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	junk := append([]byte("%PDF-1.7"), 0x00, 0x01, 0x02, 0x03)
	resp, err := http.Post(fix.ts.URL+"/v1/resume", "application/pdf", bytes.NewReader(junk))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, model.ErrCodeResumeUnparseable, decodeError(t, resp).Code)
}

func TestInvalidResumeTokenDegradesRun(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	runID := startRun(t, fix, model.StartDiscoveryRequest{
		City: "Austin", Role: "AI Engineer", ResumeToken: "garbage",
	})
	waitForRun(t, fix, runID, completed)

	history := fix.bus.History(uuid.MustParse(runID))
	require.NotEmpty(t, history)
	assert.Equal(t, model.EventDegraded, history[0].Type)
	assert.Contains(t, history[0].Message, "resume")

	params := fix.discovery.captured()
	require.Len(t, params, 1)
	assert.Empty(t, params[0].ResumeExcerpt)
}

func TestSavedItemsRoundTrip(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	resp := postJSON(t, fix.ts.URL+"/v1/saved", model.SaveItemRequest{
		Kind: model.SavedKindCompany, Item: json.RawMessage(`{"name":"acme"}`),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]int64
	decodeData(t, resp, &created)
	assert.GreaterOrEqual(t, created["id"], int64(1))

	resp = postJSON(t, fix.ts.URL+"/v1/saved", model.SaveItemRequest{
		Kind: model.SavedKindEmail, Item: json.RawMessage(`{"subject":"hello"}`),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var list struct {
		Items []savedstore.SavedItem `json:"items"`
		Count int                    `json:"count"`
	}
	resp, err := http.Get(fix.ts.URL + "/v1/saved?kind=company")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Contains(t, string(list.Items[0].Item), "acme")

	resp, err = http.Get(fix.ts.URL + "/v1/saved")
	require.NoError(t, err)
	decodeData(t, resp, &list)
	assert.Equal(t, 2, list.Count)

	resp, err = http.Get(fix.ts.URL + "/v1/saved?kind=bogus")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, fix.ts.URL+"/v1/saved", map[string]any{"kind": "bogus", "item": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDiscoveryRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.01, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	fix := newServerFixture(t, fixtureOptions{limiter: limiter})

	body := model.StartDiscoveryRequest{City: "Austin", Role: "AI Engineer"}
	resp := postJSON(t, fix.ts.URL+"/v1/discovery", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, fix.ts.URL+"/v1/discovery", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, model.ErrCodeRateLimited, decodeError(t, resp).Code)

	// Only discovery burns credits; reads stay open.
	health, err := http.Get(fix.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, health.StatusCode)
	health.Body.Close()
}

func TestRequestIDEcho(t *testing.T) {
	fix := newServerFixture(t, fixtureOptions{})

	req, err := http.NewRequest(http.MethodGet, fix.ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-fixed-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-fixed-123", resp.Header.Get("X-Request-ID"))
	var envelope struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "req-fixed-123", envelope.Meta.RequestID)
}
