package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openscribe/openscribe/internal/auth"
	"github.com/openscribe/openscribe/internal/jobs"
	"github.com/openscribe/openscribe/internal/orchestrator"
	"github.com/openscribe/openscribe/internal/persistence"
	"github.com/openscribe/openscribe/internal/session"
)

// sessionHeader carries the client-generated session identifier. It scopes
// job visibility, not authorization.
const sessionHeader = "X-Session-ID"

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*persistence.User, bool) {
	user, err := s.auth.Resolve(r)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, "authentication required")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return user, true
}

// parseLimit validates the listing limit. Absent means the default; anything
// outside [1,100] is rejected before any side effect occurs.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 20, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if limit < 1 || limit > 100 {
		return 0, errors.New("limit must be between 1 and 100")
	}
	return limit, nil
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTranscription(w, r)
	case http.MethodGet:
		s.handleListTranscriptions(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateTranscription(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	identify := formBool(r, "identify_speakers", false)
	if identify && !auth.CanIdentifySpeakers(user) {
		writeError(w, http.StatusForbidden, "speaker identification requires a premium account")
		return
	}

	sid := r.Header.Get(sessionHeader)
	if sid == "" {
		sid = session.NewID()
	}
	rawID := r.FormValue("job_id")
	if rawID == "" {
		rawID = uuid.NewString()
	}
	lang := r.FormValue("language")
	if lang == "" {
		lang = s.defaultLanguage
	}

	job, err := s.orch.Submit(orchestrator.Request{
		JobID:            session.Prefix(sid, rawID),
		SessionID:        sid,
		UserID:           user.ID,
		FileName:         header.Filename,
		Language:         lang,
		Audio:            audio,
		Correct:          formBool(r, "correct", true),
		IdentifySpeakers: identify,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrDuplicateJob) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"job":        job,
		"session_id": sid,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sid := r.Header.Get(sessionHeader)
	var ret []*jobs.Job
	switch {
	case sid != "":
		ret = s.store.RecentForSession(sid, limit)
	case auth.IsAdmin(user):
		// admins may inspect the whole registry
		ret = s.store.Recent(limit)
	default:
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   len(ret),
		"jobs":    ret,
	})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, found := s.store.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	// sessions never observe each other's jobs; an unknown session gets the
	// same answer as an unknown id
	if !auth.IsAdmin(user) && job.SessionID != r.Header.Get(sessionHeader) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job":     job,
	})
}

type updateTranscriptionRequest struct {
	JobID          string  `json:"jobId"`
	RawText        *string `json:"raw_text"`
	CorrectedText  *string `json:"corrected_text"`
	IdentifiedText *string `json:"identified_text"`
}

func (s *Server) handleUpdateTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req updateTranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	existing, err := s.gateway.FindByJobAndUser(r.Context(), req.JobID, user.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transcription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// user edits must be durable, so persistence failures here are hard
	// failures unlike the done-path writes
	updated, err := s.gateway.UpdateTranscription(r.Context(), existing.ID, persistence.TranscriptionPatch{
		RawText:        req.RawText,
		CorrectedText:  req.CorrectedText,
		IdentifiedText: req.IdentifiedText,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transcription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transcription": updated,
	})
}

func (s *Server) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ret, err := s.gateway.ListRecentForUser(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"total":          len(ret),
		"transcriptions": ret,
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if !auth.IsAdmin(user) {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	users, err := s.gateway.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   len(users),
		"users":   users,
	})
}

func formBool(r *http.Request, key string, def bool) bool {
	raw := r.FormValue(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
