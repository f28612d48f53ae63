// Package engine orchestrates the full upgrade pipeline: signal extraction,
// technique matching, composition, rendering, execution, post-processing,
// contract adaptation, and explainability.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/composer"
	"github.com/promptforge-ai/demon-engine/internal/contracts"
	"github.com/promptforge-ai/demon-engine/internal/embeddings"
	"github.com/promptforge-ai/demon-engine/internal/explain"
	"github.com/promptforge-ai/demon-engine/internal/flags"
	"github.com/promptforge-ai/demon-engine/internal/llm"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/postprocess"
	"github.com/promptforge-ai/demon-engine/internal/renderer"
	"github.com/promptforge-ai/demon-engine/internal/runner"
	"github.com/promptforge-ai/demon-engine/internal/signals"
	"github.com/promptforge-ai/demon-engine/internal/storage"
	"github.com/promptforge-ai/demon-engine/internal/telemetry"
)

// EngineVersion is reported in every response
const EngineVersion = "demon-engine/2.0.0"

// Mode selects pipeline depth
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeFull  Mode = "full"
)

// Kind tags the response variant; consumers switch on it
type Kind string

const (
	KindQuick    Kind = "quick"
	KindFull     Kind = "full"
	KindContract Kind = "contract"
)

// Request is the inbound payload
type Request struct {
	Text    string            `json:"text"`
	Mode    Mode              `json:"mode"`
	Client  string            `json:"client"`
	Surface contracts.Surface `json:"surface,omitempty"` // empty skips contract adaptation
	Context map[string]string `json:"context,omitempty"`
	Explain bool              `json:"explain"`
	Meta    map[string]any    `json:"meta,omitempty"`
}

// Caller is the authenticated identity behind a request. The engine only
// reads the plan tier; authentication happens upstream.
type Caller struct {
	UID  string `json:"uid"`
	Plan string `json:"plan"`
}

// Response is the generic outbound shape all calling surfaces consume
type Response struct {
	Kind            Kind              `json:"kind"`
	RequestID       string            `json:"request_id"`
	Upgraded        string            `json:"upgraded"`
	MatchedPipeline string            `json:"matched_pipeline"`
	EngineVersion   string            `json:"engine_version"`
	Plan            []string          `json:"plan,omitempty"`
	Diffs           string            `json:"diffs,omitempty"`
	FidelityScore   *float64          `json:"fidelity_score,omitempty"`
	MatchedEntries  []string          `json:"matched_entries,omitempty"`
	Message         string            `json:"message,omitempty"`
	Fallback        bool              `json:"fallback"`
	FallbackReason  string            `json:"fallback_reason,omitempty"`
	Contract        *contracts.Result `json:"contract,omitempty"`
	Explain         *explain.Log      `json:"explain,omitempty"`
}

// Options wires the engine's collaborators
type Options struct {
	Store            *compendium.Store
	Embedder         embeddings.Embedder
	Primary          llm.Handler
	Fallback         llm.Handler // tried when the primary's breaker is open
	Flags            flags.Provider
	Telemetry        telemetry.Sink
	Records          *storage.Store // nil disables persistence
	Logger           *log.Logger
	MatchConstraints matcher.Constraints
	MaxPipeline      int
	QuickMaxPipeline int
	RunTimeout       time.Duration
	RunnerOptions    runner.Options
	CacheEntries     int64 // 0 disables the pipeline cache
	ProOnlySurfaces  []contracts.Surface
}

// Engine runs the upgrade pipeline. Stateless per request; the compendium
// store, breaker registry, and pipeline cache are the only shared state.
type Engine struct {
	store      *compendium.Store
	embedder   embeddings.Embedder
	primary    llm.Handler
	fallback   llm.Handler
	runner     *runner.Runner
	gatekeeper *contracts.Gatekeeper
	flags      flags.Provider
	sink       telemetry.Sink
	records    *storage.Store
	logger     *log.Logger
	cache      *pipelineCache

	matchConstraints matcher.Constraints
	maxPipeline      int
	quickMaxPipeline int
	runTimeout       time.Duration
}

// New creates an engine from its collaborators
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine requires a compendium store")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("engine requires an embedder")
	}
	if opts.Primary == nil {
		return nil, fmt.Errorf("engine requires an LLM handler")
	}
	if opts.Flags == nil {
		opts.Flags = flags.NewInMemoryProvider()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MatchConstraints.MaxCandidates == 0 {
		opts.MatchConstraints = matcher.DefaultConstraints()
	}
	if opts.MaxPipeline <= 0 {
		opts.MaxPipeline = composer.DefaultMaxLength
	}
	if opts.QuickMaxPipeline <= 0 {
		opts.QuickMaxPipeline = 2
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 25 * time.Second
	}

	engine := &Engine{
		store:            opts.Store,
		embedder:         opts.Embedder,
		primary:          opts.Primary,
		fallback:         opts.Fallback,
		runner:           runner.NewRunner(opts.RunnerOptions, opts.Logger),
		gatekeeper:       contracts.NewGatekeeper(opts.Flags, opts.ProOnlySurfaces...),
		flags:            opts.Flags,
		sink:             opts.Telemetry,
		records:          opts.Records,
		logger:           opts.Logger,
		matchConstraints: opts.MatchConstraints,
		maxPipeline:      opts.MaxPipeline,
		quickMaxPipeline: opts.QuickMaxPipeline,
		runTimeout:       opts.RunTimeout,
	}

	if opts.CacheEntries > 0 {
		cache, err := newPipelineCache(opts.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline cache: %w", err)
		}
		engine.cache = cache
	}

	return engine, nil
}

// emit sends a telemetry event when the flag provider allows it. Sink
// failures never affect the request.
func (e *Engine) emit(event telemetry.Event) {
	if !e.flags.TelemetryEnabled() {
		return
	}
	telemetry.Emit(e.sink, event)
}

// Upgrade runs the whole pipeline for one request. Hard failures (invalid
// input, embedding outage, no suitable technique, auth, exhausted retries,
// pro gating) return an error; gate trips and contract breaches return a
// well-formed fallback response instead.
func (e *Engine) Upgrade(ctx context.Context, req Request, caller Caller) (*Response, error) {
	requestID := uuid.NewString()
	start := time.Now()

	if err := validateText(req.Text); err != nil {
		return nil, err
	}
	mode := req.Mode
	switch mode {
	case "":
		mode = ModeQuick
	case ModeQuick, ModeFull:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}

	// Gates run before any pipeline work so a tripped surface costs nothing
	if req.Surface != "" {
		fallback, err := e.gatekeeper.Check(req.Surface, req.Client, caller.Plan)
		if err != nil {
			return nil, err
		}
		if fallback != nil {
			return &Response{
				Kind:           KindContract,
				RequestID:      requestID,
				EngineVersion:  EngineVersion,
				Message:        fallback.Message,
				Fallback:       true,
				FallbackReason: string(fallback.Reason),
			}, nil
		}
	}

	analysis, err := signals.Extract(ctx, req.Text, req.Context, e.embedder)
	if err != nil {
		return nil, err
	}

	pipeline, scored, err := e.composePipeline(analysis, mode, req.Explain)
	if err != nil {
		return nil, err
	}

	prompt := renderer.Render(pipeline, analysis, e.store)

	runResult, err := e.execute(ctx, prompt)
	if err != nil {
		return nil, err
	}

	processed := postprocess.Process(runResult.Text, analysis)

	response := &Response{
		Kind:            Kind(mode),
		RequestID:       requestID,
		Upgraded:        processed,
		MatchedPipeline: pipeline.ID(),
		EngineVersion:   EngineVersion,
		Plan:            pipelineIDs(pipeline),
		MatchedEntries:  scoredIDs(scored),
	}

	var passed bool
	var validationErrs []string
	var fidelity float64
	if mode == ModeFull {
		passed, validationErrs = postprocess.Validate(processed, analysis)
		fidelity = postprocess.Score(processed, analysis)
		response.FidelityScore = &fidelity
		response.Diffs = diffText(req.Text, processed)
		if req.Explain {
			response.Explain = explain.Build(pipeline, analysis, scored, e.store, fidelity, validationErrs)
		}
	} else {
		// Quick mode skips validation; the record below still notes the pass
		passed = true
	}

	if req.Surface != "" {
		contract, err := contracts.Adapt(req.Surface, processed)
		if err != nil {
			return nil, err
		}
		response.Kind = KindContract
		response.Contract = contract
		if contract.Breach {
			response.Fallback = true
			response.FallbackReason = "contract_breach"
			response.Message = contract.BreachReason
		}
	}

	e.persist(ctx, requestID, req, mode, pipeline, runResult, processed, passed, validationErrs, fidelity, start)
	e.emit(telemetry.Event{
		Name:      "upgrade_completed",
		RequestID: requestID,
		Fields: map[string]any{
			"mode":      string(mode),
			"pipeline":  pipeline.ID(),
			"provider":  runResult.Provider,
			"duration":  time.Since(start).String(),
			"tokens_in": runResult.TokensIn,
			"fallback":  response.Fallback,
		},
	})

	return response, nil
}

// composePipeline retrieves and composes, consulting the fingerprint cache.
// Explain requests bypass the cache because the full scored candidate list
// is needed for the alternatives section.
func (e *Engine) composePipeline(analysis *signals.QueryAnalysis, mode Mode, explainRequested bool) (*composer.Pipeline, []matcher.TechniqueScore, error) {
	maxLength := e.maxPipeline
	if mode == ModeQuick {
		maxLength = e.quickMaxPipeline
	}

	key := fingerprint(analysis, mode)
	if !explainRequested {
		if pipeline, ok := e.cache.get(key); ok {
			return pipeline, nil, nil
		}
	}

	scored := matcher.Retrieve(analysis, e.store, e.matchConstraints)
	pipeline, err := composer.Compose(scored, e.store, maxLength)
	if err != nil {
		return nil, nil, err
	}
	e.cache.put(key, pipeline)
	return pipeline, scored, nil
}

// execute runs the prompt with the primary handler, routing to the fallback
// handler when the primary's circuit is open
func (e *Engine) execute(ctx context.Context, prompt string) (*runner.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	req := llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}

	result, err := e.runner.Run(runCtx, e.primary, req)
	if err == nil {
		return result, nil
	}

	var open *runner.BreakerOpenError
	if e.fallback != nil && errors.As(err, &open) {
		e.logger.Warn("primary provider circuit open, routing to fallback",
			"primary", e.primary.Provider(), "fallback", e.fallback.Provider())
		return e.runner.Run(runCtx, e.fallback, req)
	}
	return nil, err
}

// persist appends the execution record. Storage failures are logged, never
// surfaced; the result already exists by the time this runs.
func (e *Engine) persist(ctx context.Context, requestID string, req Request, mode Mode, pipeline *composer.Pipeline, runResult *runner.Result, processed string, passed bool, validationErrs []string, fidelity float64, start time.Time) {
	if e.records == nil {
		return
	}
	rec := &storage.ExecutionRecord{
		ID:               requestID,
		Client:           req.Client,
		Surface:          string(req.Surface),
		Mode:             string(mode),
		PipelineID:       pipeline.ID(),
		Provider:         runResult.Provider,
		Model:            runResult.Model,
		RawOutput:        runResult.Text,
		ProcessedOutput:  processed,
		DetectedFormat:   string(postprocess.DetectFormat(processed)),
		ValidationPassed: passed,
		ValidationErrors: validationErrs,
		Fidelity:         fidelity,
		Confidence:       pipeline.ConfidenceScore,
		TokensIn:         runResult.TokensIn,
		TokensOut:        runResult.TokensOut,
		DurationMS:       time.Since(start).Milliseconds(),
		CreatedAt:        time.Now(),
	}
	if err := e.records.AppendExecution(ctx, rec); err != nil {
		e.logger.Error("failed to persist execution record", "request_id", requestID, "error", err)
	}
}

// RecordFeedback attaches user feedback to a past execution and feeds the
// learning signal back into the compendium's technique scores.
func (e *Engine) RecordFeedback(ctx context.Context, recordID string, rating int, text string, reused, abandoned bool) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be in [1,5]", ErrInvalidInput)
	}
	if e.records == nil {
		return fmt.Errorf("feedback requires execution storage")
	}

	if err := e.records.AttachFeedback(ctx, recordID, rating, text, reused, abandoned); err != nil {
		return err
	}

	rec, err := e.records.GetExecution(ctx, recordID)
	if err != nil {
		return err
	}

	normalized := float64(rating-1) / 4.0
	succeeded := reused || (rating >= 3 && !abandoned)
	delta := compendium.FeedbackDelta{Rating: normalized, Succeeded: succeeded, At: time.Now()}

	for _, techniqueID := range strings.Split(rec.PipelineID, "+") {
		if techniqueID == "" {
			continue
		}
		if err := e.store.UpdateFeedback(techniqueID, delta); err != nil {
			e.logger.Warn("feedback skipped for unknown technique", "technique", techniqueID, "error", err)
			continue
		}
		if err := e.records.RecordTechniqueFeedback(ctx, techniqueID, recordID, rating, succeeded); err != nil {
			e.logger.Error("failed to record technique feedback", "technique", techniqueID, "error", err)
		}
	}

	e.emit(telemetry.Event{
		Name:      "feedback_recorded",
		RequestID: recordID,
		Fields:    map[string]any{"rating": rating, "reused": reused, "abandoned": abandoned},
	})
	return nil
}

// BreakerStates reports provider circuit states for health surfaces
func (e *Engine) BreakerStates() map[string]runner.BreakerState {
	return e.runner.Breakers().States()
}

func pipelineIDs(p *composer.Pipeline) []string {
	ids := make([]string, 0, len(p.ExecutionOrder))
	for _, ts := range p.InOrder() {
		ids = append(ids, ts.TechniqueID)
	}
	return ids
}

func scoredIDs(scored []matcher.TechniqueScore) []string {
	if len(scored) == 0 {
		return nil
	}
	ids := make([]string, 0, len(scored))
	for _, ts := range scored {
		ids = append(ids, ts.TechniqueID)
	}
	return ids
}

// diffText renders the change from the original text to the upgraded output
// as patch text
func diffText(original, upgraded string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, upgraded, false)
	if len(diffs) == 0 {
		return ""
	}
	return dmp.PatchToText(dmp.PatchMake(original, diffs))
}
