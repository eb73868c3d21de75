package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/echoverse/internal/acquire"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/pipeline"
)

// runRequest is the JSON body of a run. File.Data is base64 in JSON.
type runRequest struct {
	Text     string      `json:"text"`
	File     *fileUpload `json:"file,omitempty"`
	Tone     string      `json:"tone"`
	Language string      `json:"language"`
	Voice    string      `json:"voice"`
}

type fileUpload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

func (rr runRequest) pipelineRequest() pipeline.Request {
	req := pipeline.Request{
		Source:   acquire.Source{Text: rr.Text},
		Tone:     rr.Tone,
		Language: rr.Language,
		Voice:    rr.Voice,
	}
	if rr.File != nil {
		req.Source.File = &acquire.File{Name: rr.File.Name, Data: rr.File.Data}
	}
	return req
}

// handleRun handles POST /v1/sessions/{id}/runs.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	rr, err := s.decodeRun(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	release, err := sess.BeginRun()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer release()

	// A started run finishes and lands in history even if the client leaves.
	rep, err := s.orch.Run(context.WithoutCancel(r.Context()), sess.History(), rr.pipelineRequest(), nil)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusOK
	if rep.State == pipeline.StateFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, newReportView(sess.ID, rep))
}

// decodeRun reads a JSON or multipart run request.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (runRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.decodeMultipart(r)
	}

	var rr runRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return runRequest{}, err
		}
		return runRequest{}, badRequest("invalid request body: %v", err)
	}
	return rr, nil
}

func (s *Server) decodeMultipart(r *http.Request) (runRequest, error) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return runRequest{}, err
		}
		return runRequest{}, badRequest("invalid multipart form: %v", err)
	}
	rr := runRequest{
		Text:     r.FormValue("text"),
		Tone:     r.FormValue("tone"),
		Language: r.FormValue("language"),
		Voice:    r.FormValue("voice"),
	}

	f, hdr, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return rr, nil
	case err != nil:
		return runRequest{}, badRequest("read upload: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return runRequest{}, badRequest("read upload: %v", err)
	}
	rr.File = &fileUpload{Name: hdr.Filename, Data: data}
	return rr, nil
}

// handleRunStream handles GET /v1/sessions/{id}/runs/ws. The client sends
// one runRequest; the server answers with progress events followed by a
// report or error event and closes the connection.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).WarnContext(r.Context(), "server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	// base64 inflates uploads by a third
	conn.SetReadLimit(s.maxUpload*4/3 + 4096)

	ctx := r.Context()
	log := observe.Logger(ctx).With("session_id", sess.ID)

	var rr runRequest
	if err := wsjson.Read(ctx, conn, &rr); err != nil {
		log.DebugContext(ctx, "server: read run request", "err", err)
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON run request")
		return
	}

	fail := func(err error) {
		_ = wsjson.Write(ctx, conn, runEvent{Type: "error", Error: err.Error(), Status: statusFor(err)})
		conn.Close(websocket.StatusNormalClosure, truncateReason(err.Error()))
	}

	release, err := sess.BeginRun()
	if err != nil {
		fail(err)
		return
	}
	defer release()

	progress := func(state pipeline.State, step, total int) {
		ev := runEvent{Type: "progress", State: state.String(), Step: step, Total: total}
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			log.DebugContext(ctx, "server: write progress", "err", err)
		}
	}

	rep, err := s.orch.Run(context.WithoutCancel(ctx), sess.History(), rr.pipelineRequest(), progress)
	if err != nil {
		fail(err)
		return
	}

	view := newReportView(sess.ID, rep)
	if err := wsjson.Write(ctx, conn, runEvent{Type: "report", State: view.State, Report: &view}); err != nil {
		log.DebugContext(ctx, "server: write report", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// truncateReason keeps close reasons within the 123-byte control frame limit.
func truncateReason(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}
