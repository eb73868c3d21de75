package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/MrWong99/echoverse/internal/history"
)

var errNoAudio = errors.New("server: no narration in history")

// handleHistory handles GET /v1/sessions/{id}/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newHistoryView(sess.ID, sess.History().List()))
}

// handleHistoryAudio handles GET /v1/sessions/{id}/history/{n}/audio.
func (s *Server) handleHistoryAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, badRequest("history index must be a positive integer"))
		return
	}
	res, ok := sess.History().Get(n)
	if !ok {
		writeError(w, http.StatusNotFound, errNoAudio)
		return
	}
	writeAudio(w, res, attachment(fmt.Sprintf("echoverse_history_%d.mp3", n)))
}

// handleLatestAudio handles GET /v1/sessions/{id}/runs/latest/audio.
func (s *Server) handleLatestAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, ok := sess.History().Latest()
	if !ok {
		writeError(w, http.StatusNotFound, errNoAudio)
		return
	}
	writeAudio(w, res, attachment("echoverse_narration.mp3"))
}

func writeAudio(w http.ResponseWriter, res history.Result, disposition string) {
	audio := res.Audio()
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
