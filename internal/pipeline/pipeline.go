// Package pipeline runs one narration request through acquisition, tone
// rewriting, optional translation and speech synthesis.
//
// A run is a strict sequence of states:
//
//	Idle → Acquiring → Rewriting → [Translating] → Narrating → Completed | Failed
//
// Rewriting and translation degrade to their input when the text service is
// unavailable, so only acquisition and narration decide whether a run
// succeeds. A run completes only when narration produced audio; then exactly
// one [history.Result] is appended to the caller's history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/echoverse/internal/acquire"
	"github.com/MrWong99/echoverse/internal/history"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/rewrite"
	"github.com/MrWong99/echoverse/internal/voice"
)

// ErrNoText is returned when acquisition yields no usable text. The run
// never reaches the rewriting stage.
var ErrNoText = errors.New("pipeline: no text to narrate")

// Stage names used for spans, metrics and warnings.
const (
	stageAcquire   = "acquire"
	stageRewrite   = "rewrite"
	stageTranslate = "translate"
	stageNarrate   = "narrate"
)

// Acquirer extracts text from typed input or an uploaded file.
type Acquirer interface {
	Acquire(ctx context.Context, src acquire.Source) (acquire.Text, error)
}

// Rewriter restyles text in a tone.
type Rewriter interface {
	Rewrite(ctx context.Context, text string, tone rewrite.Tone) outcome.Outcome[string]
}

// Translator renders text in another language.
type Translator interface {
	Translate(ctx context.Context, text, language string) outcome.Outcome[string]
}

// Narrator converts text to MP3 audio.
type Narrator interface {
	Synthesize(ctx context.Context, text, voiceID string) outcome.Outcome[[]byte]
}

// Request is one narration request.
type Request struct {
	// Source is the typed text or uploaded file.
	Source acquire.Source

	// Tone is a tone name; empty selects the orchestrator's default.
	Tone string

	// Language is a catalog language name; empty selects the default.
	Language string

	// Voice is a voice ID offered for Language; empty selects its first voice.
	Voice string
}

// ProgressFunc observes state transitions. step counts from 1 up to total;
// total is 4, or 5 when the run includes translation.
type ProgressFunc func(state State, step, total int)

// Report describes a finished run.
type Report struct {
	RunID     string
	State     State
	Tone      rewrite.Tone
	Selection voice.Selection
	Document  Document

	// Source is the acquisition result; Source.Content is the original text.
	Source acquire.Text

	Rewrite   outcome.Outcome[string]
	Translate outcome.Outcome[string]
	Narrate   outcome.Outcome[[]byte]

	// Warnings lists acquisition warnings and degraded-stage notices.
	Warnings []string

	// Result is the appended history entry; nil unless State is StateCompleted.
	Result *history.Result
}

// Orchestrator sequences the pipeline stages. It holds no per-run state and
// is safe for concurrent use; callers serialise runs that share a history.
type Orchestrator struct {
	catalog     *voice.Catalog
	acquirer    Acquirer
	rewriter    Rewriter
	translator  Translator
	narrator    Narrator
	metrics     *observe.Metrics
	defaultTone rewrite.Tone
	defaultLang string
	now         func() time.Time
	newID       func() string
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDefaults sets the tone and language used when a request leaves them
// empty. Default: Neutral and "English (US)".
func WithDefaults(tone rewrite.Tone, language string) Option {
	return func(o *Orchestrator) {
		o.defaultTone = tone
		o.defaultLang = language
	}
}

// WithClock overrides the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator. All stage components are required; the
// components themselves degrade when their services are unconfigured.
func New(catalog *voice.Catalog, acq Acquirer, rw Rewriter, tr Translator, nr Narrator, opts ...Option) (*Orchestrator, error) {
	switch {
	case catalog == nil:
		return nil, errors.New("pipeline: catalog must not be nil")
	case acq == nil:
		return nil, errors.New("pipeline: acquirer must not be nil")
	case rw == nil:
		return nil, errors.New("pipeline: rewriter must not be nil")
	case tr == nil:
		return nil, errors.New("pipeline: translator must not be nil")
	case nr == nil:
		return nil, errors.New("pipeline: narrator must not be nil")
	}
	o := &Orchestrator{
		catalog:     catalog,
		acquirer:    acq,
		rewriter:    rw,
		translator:  tr,
		narrator:    nr,
		defaultTone: rewrite.Neutral,
		defaultLang: "English (US)",
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Catalog returns the voice catalog selections are validated against.
func (o *Orchestrator) Catalog() *voice.Catalog {
	return o.catalog
}

// Defaults returns the tone and language used when a request omits them.
func (o *Orchestrator) Defaults() (rewrite.Tone, string) {
	return o.defaultTone, o.defaultLang
}

// Validate resolves the tone and voice selection of req without running
// anything.
func (o *Orchestrator) Validate(req Request) (rewrite.Tone, voice.Selection, error) {
	tone := o.defaultTone
	if strings.TrimSpace(req.Tone) != "" {
		t, err := rewrite.ParseTone(req.Tone)
		if err != nil {
			return "", voice.Selection{}, fmt.Errorf("pipeline: %w", err)
		}
		tone = t
	}
	lang := req.Language
	if strings.TrimSpace(lang) == "" {
		lang = o.defaultLang
	}
	sel, err := o.catalog.Resolve(lang, req.Voice)
	if err != nil {
		return "", voice.Selection{}, fmt.Errorf("pipeline: %w", err)
	}
	return tone, sel, nil
}

// Run executes one request and appends the result to hist on success.
//
// Run returns an error only when the request is rejected: an invalid
// selection (before any state change) or [ErrNoText]. A run whose
// narration produced no audio is not an error; it returns a Report in
// [StateFailed].
func (o *Orchestrator) Run(ctx context.Context, hist *history.History, req Request, progress ProgressFunc) (*Report, error) {
	if hist == nil {
		return nil, errors.New("pipeline: history must not be nil")
	}
	tone, sel, err := o.Validate(req)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(State, int, int) {}
	}

	translate := !sel.English()
	total := 4
	if translate {
		total = 5
	}

	rep := &Report{
		RunID:     o.newID(),
		State:     StateIdle,
		Tone:      tone,
		Selection: sel,
	}
	started := time.Now()

	ctx, span := observe.StartRun(ctx, rep.RunID,
		attribute.String("tone", string(tone)),
		attribute.String("language", sel.Language),
		attribute.String("voice", sel.Voice),
		attribute.Bool("translate", translate),
	)
	defer span.End()
	log := observe.Logger(ctx)

	step := 0
	enter := func(s State) {
		step++
		rep.State = s
		span.AddEvent("state", trace.WithAttributes(attribute.String("state", s.String())))
		progress(s, step, total)
	}

	// Acquiring.
	enter(StateAcquiring)
	text, err := o.acquire(ctx, req.Source)
	if err != nil {
		rep.State = StateFailed
		progress(StateFailed, total, total)
		o.metrics.RecordRun(ctx, "no_text", time.Since(started).Seconds())
		span.SetStatus(codes.Error, "no text")
		log.WarnContext(ctx, "run rejected: no text", "err", err)
		return nil, err
	}
	rep.Source = text
	rep.Warnings = append(rep.Warnings, text.Warnings...)
	rep.Document = Document{Text: text.Content, Stage: StageAcquired}

	// Rewriting.
	enter(StateRewriting)
	rep.Rewrite = timeStage(ctx, o.metrics, stageRewrite, func(ctx context.Context) outcome.Outcome[string] {
		return o.rewriter.Rewrite(ctx, rep.Document.Text, tone)
	})
	rep.noteDegraded(ctx, o.metrics, stageRewrite, rep.Rewrite.Reason, rep.Rewrite.Err)
	rep.Document.advance(rep.Rewrite.Value, StageRewritten)

	// Translating.
	if translate {
		enter(StateTranslating)
		rep.Translate = timeStage(ctx, o.metrics, stageTranslate, func(ctx context.Context) outcome.Outcome[string] {
			return o.translator.Translate(ctx, rep.Document.Text, sel.Language)
		})
		rep.noteDegraded(ctx, o.metrics, stageTranslate, rep.Translate.Reason, rep.Translate.Err)
		rep.Document.advance(rep.Translate.Value, StageTranslated)
	} else {
		rep.Translate = outcome.Skipped(rep.Document.Text)
	}

	// Narrating.
	enter(StateNarrating)
	rep.Narrate = timeStage(ctx, o.metrics, stageNarrate, func(ctx context.Context) outcome.Outcome[[]byte] {
		return o.narrator.Synthesize(ctx, rep.Document.Text, sel.Voice)
	})
	rep.Document.Stage = StageFinal

	if len(rep.Narrate.Value) == 0 {
		rep.noteDegraded(ctx, o.metrics, stageNarrate, rep.Narrate.Reason, rep.Narrate.Err)
		rep.Warnings = append(rep.Warnings, "narration produced no audio; nothing was added to the history")
		enter(StateFailed)
		o.metrics.RecordRun(ctx, StateFailed.String(), time.Since(started).Seconds())
		span.SetStatus(codes.Error, "narration produced no audio")
		log.WarnContext(ctx, "run failed", "reason", rep.Narrate.Reason.String())
		return rep, nil
	}

	o.metrics.NarrationBytes.Record(ctx, int64(len(rep.Narrate.Value)))
	res := history.NewResult(history.Result{
		ID:         rep.RunID,
		CreatedAt:  o.now(),
		Original:   text.Content,
		Rewritten:  rep.Rewrite.Value,
		Translated: rep.Document.Text,
		Language:   sel.Language,
		Tone:       string(tone),
		Voice:      sel.Voice,
	}, rep.Narrate.Value)
	hist.Append(res)
	rep.Result = &res

	enter(StateCompleted)
	o.metrics.RecordRun(ctx, StateCompleted.String(), time.Since(started).Seconds())
	log.InfoContext(ctx, "run completed",
		"audio_bytes", res.AudioLen(),
		"warnings", len(rep.Warnings),
		"history_len", hist.Len())
	return rep, nil
}

// acquire runs the acquisition stage and rejects empty text.
func (o *Orchestrator) acquire(ctx context.Context, src acquire.Source) (_ acquire.Text, err error) {
	ctx, span := observe.StartStage(ctx, stageAcquire)
	defer func() { observe.EndStage(span, "", err) }()

	start := time.Now()
	text, err := o.acquirer.Acquire(ctx, src)
	o.metrics.RecordStage(ctx, stageAcquire, time.Since(start).Seconds())
	if err != nil {
		return acquire.Text{}, fmt.Errorf("%w: %w", ErrNoText, err)
	}
	if text.Empty() {
		return acquire.Text{}, ErrNoText
	}
	span.SetAttributes(
		attribute.String("format", string(text.Format)),
		attribute.Int("chars", len(text.Content)),
	)
	return text, nil
}

// timeStage runs fn inside a span and records its duration.
func timeStage[T any](ctx context.Context, m *observe.Metrics, stage string, fn func(context.Context) outcome.Outcome[T]) outcome.Outcome[T] {
	ctx, span := observe.StartStage(ctx, stage)

	start := time.Now()
	out := fn(ctx)
	m.RecordStage(ctx, stage, time.Since(start).Seconds())

	observe.EndStage(span, out.Reason.String(), out.Err)
	return out
}

// noteDegraded records a warning and metric when a stage fell back.
func (r *Report) noteDegraded(ctx context.Context, m *observe.Metrics, stage string, reason outcome.Reason, err error) {
	if reason == outcome.ReasonNone || reason == outcome.ReasonSkipped {
		return
	}
	m.RecordDegradation(ctx, stage, reason.String())
	r.Warnings = append(r.Warnings, degradedNotice(stage, reason))
	if err != nil {
		slog.DebugContext(ctx, "stage degraded", "stage", stage, "reason", reason.String(), "err", err)
	}
}

func degradedNotice(stage string, reason outcome.Reason) string {
	var what string
	switch stage {
	case stageRewrite:
		what = "tone rewrite unavailable; the original text was kept"
	case stageTranslate:
		what = "translation unavailable; the untranslated text was narrated"
	case stageNarrate:
		what = "speech synthesis unavailable"
	default:
		what = stage + " unavailable"
	}
	switch reason {
	case outcome.ReasonNotConfigured:
		return what + " (service credentials not configured)"
	case outcome.ReasonEmptyInput:
		return what + " (no text to process)"
	case outcome.ReasonEmptyResult:
		return what + " (service returned nothing)"
	case outcome.ReasonMalformed:
		return what + " (service returned an unusable response)"
	default:
		return what + " (service request failed)"
	}
}
