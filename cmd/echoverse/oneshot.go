package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrWong99/echoverse/internal/acquire"
	"github.com/MrWong99/echoverse/internal/history"
	"github.com/MrWong99/echoverse/internal/outcome"
	"github.com/MrWong99/echoverse/internal/pipeline"
)

// Exit codes of the one-shot mode.
const (
	exitOK      = 0
	exitError   = 1
	exitNoAudio = 2
)

type oneShotOptions struct {
	InPath   string
	Text     string
	OutPath  string
	Tone     string
	Language string
	Voice    string
}

// narrateOnce runs a single request, writes the audio to opts.OutPath and
// prints the texts of each stage to w.
func narrateOnce(ctx context.Context, orch *pipeline.Orchestrator, opts oneShotOptions, w io.Writer) int {
	req := pipeline.Request{
		Source:   acquire.Source{Text: opts.Text},
		Tone:     opts.Tone,
		Language: opts.Language,
		Voice:    opts.Voice,
	}
	if opts.InPath != "" {
		data, err := os.ReadFile(opts.InPath)
		if err != nil {
			slog.Error("cannot read input", "path", opts.InPath, "err", err)
			return exitError
		}
		req.Source.File = &acquire.File{Name: filepath.Base(opts.InPath), Data: data}
	}

	progress := func(state pipeline.State, step, total int) {
		slog.Info("progress", "step", step, "total", total, "state", state.String())
	}

	rep, err := orch.Run(ctx, history.New(), req, progress)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoText) {
			slog.Error("nothing to narrate", "err", err)
		} else {
			slog.Error("request rejected", "err", err)
		}
		return exitError
	}

	for _, warning := range rep.Warnings {
		slog.Warn(warning)
	}
	fmt.Fprintf(w, "Tone:       %s\n", rep.Tone)
	fmt.Fprintf(w, "Language:   %s (%s)\n", rep.Selection.Language, rep.Selection.Voice)
	fmt.Fprintf(w, "\n--- Original ---\n%s\n", rep.Source.Content)
	fmt.Fprintf(w, "\n--- Rewritten ---\n%s\n", rep.Rewrite.Value)
	if rep.Translate.Reason != outcome.ReasonSkipped {
		fmt.Fprintf(w, "\n--- Translated ---\n%s\n", rep.Document.Text)
	}

	if rep.State != pipeline.StateCompleted {
		fmt.Fprintln(w, "\nNo audio was produced.")
		return exitNoAudio
	}

	if err := os.WriteFile(opts.OutPath, rep.Result.Audio(), 0o644); err != nil {
		slog.Error("cannot write audio", "path", opts.OutPath, "err", err)
		return exitError
	}
	fmt.Fprintf(w, "\nWrote %d bytes to %s\n", rep.Result.AudioLen(), opts.OutPath)
	return exitOK
}
