// Package tegami is the public API for embedding the Tegami outreach server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := tegami.New(
//	    tegami.WithVersion(version),
//	    tegami.WithLogger(logger),
//	    tegami.WithSearcher(mySearchProvider),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: tegami (root) imports
// internal/*, but internal/* never imports tegami (root). Public types
// (SearchQuery, CompleteRequest, Location) are standalone structs with no
// internal imports; the adapters between the public interfaces and the
// internal ones live here because this is the only file that sees both
// sides of the boundary.
package tegami

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/tegami/api"
	"github.com/ashita-ai/tegami/internal/config"
	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/geo"
	"github.com/ashita-ai/tegami/internal/llm"
	"github.com/ashita-ai/tegami/internal/mcp"
	"github.com/ashita-ai/tegami/internal/ratelimit"
	"github.com/ashita-ai/tegami/internal/resume"
	"github.com/ashita-ai/tegami/internal/roles"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/search"
	"github.com/ashita-ai/tegami/internal/server"
	"github.com/ashita-ai/tegami/internal/service/discovery"
	"github.com/ashita-ai/tegami/internal/service/match"
	"github.com/ashita-ai/tegami/internal/service/research"
	"github.com/ashita-ai/tegami/internal/service/writer"
	"github.com/ashita-ai/tegami/internal/telemetry"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// App is the Tegami server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	srv          *server.Server
	runs         *runstore.Store
	resumes      *resume.Store
	saved        *savedstore.Store // nil when no saved-items path is configured
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Tegami server. It loads configuration, wires the
// pipeline agents and stores, and returns a ready-to-run App. It does NOT
// start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("tegami starting", "version", version, "port", cfg.Port)

	// Telemetry goes up first so instruments created by the constructors
	// below bind to the real meter provider.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	catalog, err := roles.Load(cfg.RolesFile)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("roles: %w", err)
	}

	// Search provider. External override takes priority; otherwise Exa,
	// which is the one dependency the pipeline cannot run without.
	var searcher search.Searcher
	var fetcher search.ContentFetcher
	switch {
	case o.searcher != nil:
		adapter := &searcherAdapter{s: o.searcher}
		searcher, fetcher = adapter, adapter
	case cfg.ExaAPIKey != "":
		exa := search.NewExaClient(cfg.ExaAPIKey, cfg.ExaBaseURL, cfg.SearchGlobalLimit, logger)
		searcher, fetcher = exa, exa
		logger.Info("search provider: exa", "base_url", cfg.ExaBaseURL)
	default:
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("config: TEGAMI_EXA_API_KEY is required (or provide WithSearcher)")
	}

	// Chat model. Constructed even with an empty key: the writer degrades
	// failed drafts to template emails, so a missing key yields a running
	// server with template-only outreach.
	var chat llm.Chat
	if o.chat != nil {
		chat = &chatAdapter{c: o.chat}
	} else {
		switch cfg.LLMProvider {
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				logger.Warn("chat: no TEGAMI_ANTHROPIC_API_KEY, drafts will fall back to templates")
			}
			chat = llm.NewAnthropicChat(cfg.AnthropicAPIKey, cfg.LLMModel, logger)
			logger.Info("chat provider: anthropic", "model", cfg.LLMModel)
		default:
			if cfg.LLMAPIKey == "" {
				logger.Warn("chat: no TEGAMI_LLM_API_KEY, drafts will fall back to templates")
			}
			chat = llm.NewOpenAIChat(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, logger)
			logger.Info("chat provider: openai-compatible", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModel)
		}
	}

	// Embedder. Optional: a nil embedder degrades match scoring to keyword
	// overlap inside the scorer.
	var embedder llm.Embedder
	switch {
	case o.embedder != nil:
		embedder = &embedderAdapter{e: o.embedder}
	case cfg.EmbedAPIKey != "":
		embedder = llm.NewHTTPEmbedder(cfg.EmbedAPIKey, cfg.EmbedBaseURL, cfg.EmbedModel)
		logger.Info("embedder: http", "base_url", cfg.EmbedBaseURL, "model", cfg.EmbedModel)
	default:
		logger.Info("embedder: disabled (no TEGAMI_EMBED_API_KEY), match scoring uses keyword overlap")
	}

	// Geocoder. The client itself skips lookups on an empty key, so it is
	// constructed unconditionally.
	var geocoder discovery.Geocoder
	if o.geocoder != nil {
		geocoder = &geocoderAdapter{g: o.geocoder}
	} else {
		geocoder = geo.NewClient(cfg.GoogleMapsKey, cfg.GeocoderBaseURL, logger)
		if cfg.GoogleMapsKey == "" {
			logger.Info("geocoder: disabled (no TEGAMI_GOOGLE_MAPS_KEY), cities pass through as-is")
		}
	}

	// Run state and event streaming.
	bus := timeline.NewBus()
	runs := runstore.NewStore(bus, logger, cfg.RunTTL)
	executor := engine.NewExecutor(runs, bus, logger)

	// Pipeline agents.
	scorer := match.NewScorer(embedder, logger)
	controller := engine.NewController(engine.ControllerDeps{
		Store:    runs,
		Bus:      bus,
		Executor: executor,
		Discovery: discovery.NewAgent(discovery.Deps{
			Catalog:  catalog,
			Searcher: searcher,
			Fetcher:  fetcher,
			Scorer:   scorer,
			Geocoder: geocoder,
			Fanout:   cfg.FanoutLimit,
			Logger:   logger,
		}),
		Research: research.NewAgent(research.Deps{
			Searcher: searcher,
			Fanout:   cfg.FanoutLimit,
			Logger:   logger,
		}),
		Writer: writer.NewAgent(writer.Deps{
			Catalog: catalog,
			Chat:    chat,
			Logger:  logger,
		}),
		ResearchEnabled: cfg.ResearchEnabled,
		Logger:          logger,
	})
	if !cfg.ResearchEnabled {
		logger.Info("research stage: disabled by config")
	}

	// Resume intake.
	resumes, err := resume.NewStore(cfg.ResumeJWTPrivateKey, cfg.ResumeJWTPublicKey, cfg.ResumeTTL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("resume store: %w", err)
	}

	// Saved items.
	var saved *savedstore.Store
	if cfg.SavedDBPath != "" {
		saved, err = savedstore.Open(cfg.SavedDBPath, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("saved store: %w", err)
		}
		logger.Info("saved items: sqlite", "path", cfg.SavedDBPath)
	} else {
		logger.Info("saved items: disabled (no TEGAMI_SAVED_DB_PATH)")
	}

	// Rate limiter for the discovery route.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory token bucket", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(mcp.Deps{
		Controller: controller,
		Bus:        bus,
		Saved:      saved,
		Catalog:    catalog,
		Version:    version,
		Logger:     logger,
	})

	srv := server.New(server.ServerConfig{
		Controller:          controller,
		Bus:                 bus,
		Runs:                runs,
		Resumes:             resumes,
		Saved:               saved,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ResumeMaxBytes:      cfg.ResumeMaxBytes,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         o.extraRoutes,
		Middleware:          middlewareChain(o.middlewares),
	})

	return &App{
		cfg:          cfg,
		srv:          srv,
		runs:         runs,
		resumes:      resumes,
		saved:        saved,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the eviction sweepers and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// already been called; callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	go a.runs.Start(ctx, a.cfg.RunSweepInterval)
	go a.resumes.Start(ctx, a.cfg.RunSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the saved-items
// store, the rate limiter, and the telemetry provider. Runs still
// executing keep going until their goroutines observe cancellation; their
// state stays readable until the process exits.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("tegami shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if a.saved != nil {
		if err := a.saved.Close(); err != nil {
			a.logger.Error("saved store close error", "error", err)
		}
	}
	_ = a.limiter.Close()

	otelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = a.otelShutdown(otelCtx)
	cancel()

	a.logger.Info("tegami stopped")
	return nil
}

// middlewareChain converts public Middleware values to the server's
// middleware type, preserving registration order (first = outermost).
func middlewareChain(mws []Middleware) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(mws))
	for i, mw := range mws {
		out[i] = mw
	}
	return out
}

// ── Adapters (defined here because this file imports both sides) ───────────

// searcherAdapter wraps a tegami.Searcher to satisfy both search.Searcher
// and search.ContentFetcher. It converts between the public request and
// result structs and the internal ones at the boundary.
type searcherAdapter struct {
	s Searcher
}

func (a *searcherAdapter) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	results, err := a.s.Search(ctx, SearchQuery{
		Text:           q.Text,
		NumResults:     q.NumResults,
		IncludeDomains: q.IncludeDomains,
		WantText:       q.WantText,
		WantHighlights: q.WantHighlights,
	})
	if err != nil {
		return nil, err
	}
	out := make([]search.Result, len(results))
	for i, r := range results {
		out[i] = search.Result{
			Title:       r.Title,
			URL:         r.URL,
			PublishedAt: r.PublishedAt,
			Highlights:  r.Highlights,
			Summary:     r.Summary,
		}
	}
	return out, nil
}

func (a *searcherAdapter) Contents(ctx context.Context, urls []string, maxChars int) ([]search.PageContent, error) {
	pages, err := a.s.Contents(ctx, urls, maxChars)
	if err != nil {
		return nil, err
	}
	out := make([]search.PageContent, len(pages))
	for i, p := range pages {
		out[i] = search.PageContent{URL: p.URL, Title: p.Title, Text: p.Text}
	}
	return out, nil
}

// chatAdapter wraps a tegami.Chat to satisfy llm.Chat.
type chatAdapter struct {
	c Chat
}

func (a *chatAdapter) Complete(ctx context.Context, req llm.CompleteRequest) (string, error) {
	return a.c.Complete(ctx, CompleteRequest{
		Model:       req.Model,
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

// embedderAdapter wraps a tegami.Embedder to satisfy llm.Embedder.
type embedderAdapter struct {
	e Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.e.Embed(ctx, texts)
}

// geocoderAdapter wraps a tegami.Geocoder to satisfy discovery.Geocoder.
type geocoderAdapter struct {
	g Geocoder
}

func (a *geocoderAdapter) Geocode(ctx context.Context, address string) (*geo.Location, error) {
	loc, err := a.g.Geocode(ctx, address)
	if err != nil || loc == nil {
		return nil, err
	}
	return &geo.Location{Lat: loc.Lat, Lng: loc.Lng, Formatted: loc.Formatted}, nil
}
