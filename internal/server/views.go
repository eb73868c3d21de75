package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/echoverse/internal/history"
	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/pipeline"
	"github.com/MrWong99/echoverse/internal/rewrite"
	"github.com/MrWong99/echoverse/internal/voice"
)

type sessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type catalogView struct {
	Tones           []string         `json:"tones"`
	Languages       []voice.Language `json:"languages"`
	DefaultTone     string           `json:"default_tone"`
	DefaultLanguage string           `json:"default_language"`
}

func newCatalogView(o *pipeline.Orchestrator) catalogView {
	tone, lang := o.Defaults()
	tones := rewrite.Tones()
	v := catalogView{
		Tones:           make([]string, len(tones)),
		Languages:       o.Catalog().Languages(),
		DefaultTone:     string(tone),
		DefaultLanguage: lang,
	}
	for i, t := range tones {
		v.Tones[i] = string(t)
	}
	return v
}

// stageView summarises one stage outcome.
type stageView struct {
	Reason   string `json:"reason"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

func newStageView[T any](o outcome.Outcome[T]) stageView {
	v := stageView{Reason: o.Reason.String(), Degraded: o.Degraded()}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

type reportView struct {
	RunID      string    `json:"run_id"`
	State      string    `json:"state"`
	Tone       string    `json:"tone"`
	Language   string    `json:"language"`
	Voice      string    `json:"voice"`
	Format     string    `json:"format"`
	Original   string    `json:"original"`
	Rewritten  string    `json:"rewritten"`
	Translated string    `json:"translated"`
	Rewrite    stageView `json:"rewrite"`
	Translate  stageView `json:"translate"`
	Narrate    stageView `json:"narrate"`
	AudioBytes int       `json:"audio_bytes"`
	AudioURL   string    `json:"audio_url,omitempty"`
	Warnings   []string  `json:"warnings"`
}

func newReportView(sessionID string, rep *pipeline.Report) reportView {
	v := reportView{
		RunID:      rep.RunID,
		State:      rep.State.String(),
		Tone:       string(rep.Tone),
		Language:   rep.Selection.Language,
		Voice:      rep.Selection.Voice,
		Format:     string(rep.Source.Format),
		Original:   rep.Source.Content,
		Rewritten:  rep.Rewrite.Value,
		Translated: rep.Document.Text,
		Rewrite:    newStageView(rep.Rewrite),
		Translate:  newStageView(rep.Translate),
		Narrate:    newStageView(rep.Narrate),
		AudioBytes: len(rep.Narrate.Value),
		Warnings:   rep.Warnings,
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}
	if rep.Result != nil {
		v.AudioURL = fmt.Sprintf("/v1/sessions/%s/runs/latest/audio", sessionID)
	}
	return v
}

type historyEntryView struct {
	Index      int       `json:"index"`
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Original   string    `json:"original"`
	Rewritten  string    `json:"rewritten"`
	Translated string    `json:"translated"`
	Language   string    `json:"language"`
	Tone       string    `json:"tone"`
	Voice      string    `json:"voice"`
	AudioBytes int       `json:"audio_bytes"`
	AudioURL   string    `json:"audio_url"`
}

func newHistoryView(sessionID string, entries []history.Result) []historyEntryView {
	out := make([]historyEntryView, len(entries))
	for i, e := range entries {
		n := i + 1
		out[i] = historyEntryView{
			Index:      n,
			ID:         e.ID,
			CreatedAt:  e.CreatedAt,
			Original:   e.Original,
			Rewritten:  e.Rewritten,
			Translated: e.Translated,
			Language:   e.Language,
			Tone:       e.Tone,
			Voice:      e.Voice,
			AudioBytes: e.AudioLen(),
			AudioURL:   fmt.Sprintf("/v1/sessions/%s/history/%d/audio", sessionID, n),
		}
	}
	return out
}

// runEvent is one WebSocket message sent during a streamed run.
type runEvent struct {
	// Type is "progress", "report" or "error".
	Type   string      `json:"type"`
	State  string      `json:"state,omitempty"`
	Step   int         `json:"step,omitempty"`
	Total  int         `json:"total,omitempty"`
	Report *reportView `json:"report,omitempty"`
	Error  string      `json:"error,omitempty"`
	Status int         `json:"status,omitempty"`
}

func isSelectionError(err error) bool {
	return errors.Is(err, rewrite.ErrUnknownTone) ||
		errors.Is(err, voice.ErrUnknownLanguage) ||
		errors.Is(err, voice.ErrVoiceNotAllowed)
}
