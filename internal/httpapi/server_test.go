package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openscribe/openscribe/internal/auth"
	"github.com/openscribe/openscribe/internal/cache"
	"github.com/openscribe/openscribe/internal/jobs"
	"github.com/openscribe/openscribe/internal/orchestrator"
	"github.com/openscribe/openscribe/internal/persistence"
	"github.com/openscribe/openscribe/internal/transcribe"
)

type fakeEngine struct{}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Transcribe(ctx context.Context, audio []byte, opts transcribe.Options) (transcribe.Result, error) {
	return transcribe.Result{Text: "hello world", Language: "en", Provider: "fake"}, nil
}

func (f *fakeEngine) Correct(ctx context.Context, text string) (string, error) {
	return "Hello, world.", nil
}

func (f *fakeEngine) IdentifySpeakers(ctx context.Context, text string) (string, error) {
	return "Speaker 1: " + text, nil
}

type testEnv struct {
	server *Server
	db     *persistence.SQLiteStore
	store  *jobs.Store

	adminToken   string
	userToken    string
	premiumToken string

	admin   *persistence.User
	user    *persistence.User
	premium *persistence.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	admin, err := db.EnsureUser(ctx, "admin@example.com", persistence.RoleAdmin, "tok-admin")
	require.NoError(t, err)
	user, err := db.EnsureUser(ctx, "user@example.com", persistence.RoleUser, "tok-user")
	require.NoError(t, err)
	premium, err := db.EnsureUser(ctx, "premium@example.com", persistence.RolePremium, "tok-premium")
	require.NoError(t, err)

	store := jobs.NewStore(0)
	orch := orchestrator.New(store, cache.NewMemory(), &fakeEngine{}, db, 5*time.Second)
	srv := NewServer(store, orch, db, auth.NewAuthenticator(db), WithDefaultLanguage("en"))
	t.Cleanup(orch.Wait)

	return &testEnv{
		server:       srv,
		db:           db,
		store:        store,
		adminToken:   "tok-admin",
		userToken:    "tok-user",
		premiumToken: "tok-premium",
		admin:        admin,
		user:         user,
		premium:      premium,
	}
}

func (e *testEnv) do(t *testing.T, method, target, token, sessionID string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, method, target, token, "", bytes.NewBuffer(raw), "application/json")
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/jobs", "/api/transcriptions", "/api/admin/users"} {
		rec := env.do(t, http.MethodGet, target, "", "", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Contains(t, decodeBody(t, rec)["error"], "authentication")
	}
}

func TestServer_UploadLifecycle(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"job_id": "job1"}, "meeting.mp3", []byte("fake-audio"))
	rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "sess-a", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "sess-a", resp["session_id"])
	job := resp["job"].(map[string]any)
	assert.Equal(t, "sess-a:job1", job["id"])

	require.Eventually(t, func() bool {
		j, ok := env.store.Get("sess-a:job1")
		return ok && j.Status.Terminal()
	}, 3*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/jobs/sess-a:job1", env.userToken, "sess-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job = decodeBody(t, rec)["job"].(map[string]any)
	assert.Equal(t, "done", job["status"])
	assert.Equal(t, float64(100), job["progress"])
	result := job["result"].(map[string]any)
	assert.Equal(t, "hello world", result["raw_text"])
	assert.Equal(t, "Hello, world.", result["corrected_text"])

	// terminal result is mirrored to the durable store
	tr, err := env.db.FindByJobAndUser(context.Background(), "sess-a:job1", env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.RawText)
}

func TestServer_UploadGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, nil, "a.mp3", []byte("audio"))
	rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody(t, rec)
	sid, _ := resp["session_id"].(string)
	require.NotEmpty(t, sid)
	job := resp["job"].(map[string]any)
	assert.True(t, strings.HasPrefix(job["id"].(string), sid+":"))
}

func TestServer_UploadRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"job_id": "job1"}, "", nil)
	rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "sess-a", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "file")
}

func TestServer_UploadDuplicateJobID(t *testing.T) {
	env := newTestEnv(t)

	for i, want := range []int{http.StatusAccepted, http.StatusConflict} {
		body, ct := multipartUpload(t, map[string]string{"job_id": "dup"}, "a.mp3", []byte("audio"))
		rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "sess-a", body, ct)
		assert.Equal(t, want, rec.Code, "attempt %d", i)
	}
}

func TestServer_SpeakerIdentificationRequiresPremium(t *testing.T) {
	env := newTestEnv(t)

	fields := map[string]string{"job_id": "job1", "identify_speakers": "true"}

	body, ct := multipartUpload(t, fields, "a.mp3", []byte("audio"))
	rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "sess-a", body, ct)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, ct = multipartUpload(t, fields, "a.mp3", []byte("audio"))
	rec = env.do(t, http.MethodPost, "/api/transcriptions", env.premiumToken, "sess-b", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		j, ok := env.store.Get("sess-b:job1")
		return ok && j.Status == jobs.StatusDone
	}, 3*time.Second, 10*time.Millisecond)

	j, _ := env.store.Get("sess-b:job1")
	assert.Contains(t, j.Result.IdentifiedText, "Speaker 1:")
}

func TestServer_ListJobsLimitValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, limit := range []string{"0", "101", "-5", "abc"} {
		rec := env.do(t, http.MethodGet, "/api/jobs?limit="+limit, env.userToken, "sess-a", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
		assert.Contains(t, decodeBody(t, rec)["error"], "limit")
	}

	rec := env.do(t, http.MethodGet, "/api/jobs?limit=100", env.userToken, "sess-a", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListJobsScopedBySession(t *testing.T) {
	env := newTestEnv(t)

	for i, sid := range []string{"sess-a", "sess-a", "sess-b"} {
		body, ct := multipartUpload(t, map[string]string{"job_id": fmt.Sprintf("job%d", i)}, "a.mp3", []byte("audio"))
		rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, sid, body, ct)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/jobs", env.userToken, "sess-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(2), resp["total"])
	for _, raw := range resp["jobs"].([]any) {
		job := raw.(map[string]any)
		assert.Equal(t, "sess-a", job["session_id"])
	}

	// admins without a session header see everything
	rec = env.do(t, http.MethodGet, "/api/jobs", env.adminToken, "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["total"])

	// regular users must scope the listing
	rec = env.do(t, http.MethodGet, "/api/jobs", env.userToken, "", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_JobByIDHidesOtherSessions(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"job_id": "job1"}, "a.mp3", []byte("audio"))
	rec := env.do(t, http.MethodPost, "/api/transcriptions", env.userToken, "sess-a", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/sess-a:job1", env.userToken, "sess-b", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/sess-a:job1", env.adminToken, "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/no-such-job", env.userToken, "sess-a", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdateTranscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seeded, err := env.db.SaveTranscription(ctx, &persistence.Transcription{
		JobID:         "sess-a:job1",
		UserID:        env.user.ID,
		FileName:      "a.mp3",
		RawText:       "original raw",
		CorrectedText: "original corrected",
		Fingerprint:   "fp1",
		Language:      "en",
	})
	require.NoError(t, err)

	raw := "edited raw"
	rec := env.doJSON(t, http.MethodPost, "/api/transcriptions/update", env.userToken, map[string]any{
		"jobId":    "sess-a:job1",
		"raw_text": raw,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tr := decodeBody(t, rec)["transcription"].(map[string]any)
	assert.Equal(t, "edited raw", tr["raw_text"])
	assert.Equal(t, "original corrected", tr["corrected_text"], "omitted fields are untouched")

	stored, err := env.db.FindByJobAndUser(ctx, "sess-a:job1", env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, stored.ID)
	assert.Equal(t, "edited raw", stored.RawText)
}

func TestServer_UpdateTranscriptionErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.db.SaveTranscription(context.Background(), &persistence.Transcription{
		JobID:   "sess-a:job1",
		UserID:  env.user.ID,
		RawText: "raw",
	})
	require.NoError(t, err)

	rec := env.doJSON(t, http.MethodPost, "/api/transcriptions/update", env.userToken, map[string]any{
		"raw_text": "no job id",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "jobId")

	rec = env.doJSON(t, http.MethodPost, "/api/transcriptions/update", env.userToken, map[string]any{
		"jobId": "sess-a:missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// records belong to the user that created them
	rec = env.doJSON(t, http.MethodPost, "/api/transcriptions/update", env.premiumToken, map[string]any{
		"jobId": "sess-a:job1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/transcriptions/update", env.userToken, "", bytes.NewBufferString("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListTranscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.db.SaveTranscription(ctx, &persistence.Transcription{
			JobID:   fmt.Sprintf("sess-a:job%d", i),
			UserID:  env.user.ID,
			RawText: "raw",
		})
		require.NoError(t, err)
	}
	_, err := env.db.SaveTranscription(ctx, &persistence.Transcription{
		JobID:   "sess-b:other",
		UserID:  env.premium.ID,
		RawText: "raw",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/transcriptions?limit=2", env.userToken, "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(2), resp["total"])

	rec = env.do(t, http.MethodGet, "/api/transcriptions?limit=200", env.userToken, "", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AdminUsers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/users", env.userToken, "", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/users", env.adminToken, "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(3), resp["total"])
	for _, raw := range resp["users"].([]any) {
		u := raw.(map[string]any)
		assert.NotContains(t, u, "APIToken", "tokens never leave the server")
	}
}
