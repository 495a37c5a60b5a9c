package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/openscribe/openscribe/internal/auth"
	"github.com/openscribe/openscribe/internal/jobs"
	"github.com/openscribe/openscribe/internal/orchestrator"
	"github.com/openscribe/openscribe/internal/persistence"
)

// Gateway is the durable-store surface the handlers need. The persistence
// store satisfies this.
type Gateway interface {
	FindByJobAndUser(ctx context.Context, jobID, userID string) (*persistence.Transcription, error)
	UpdateTranscription(ctx context.Context, id string, patch persistence.TranscriptionPatch) (*persistence.Transcription, error)
	ListRecentForUser(ctx context.Context, userID string, limit int) ([]*persistence.Transcription, error)
	ListUsers(ctx context.Context) ([]*persistence.User, error)
}

const defaultMaxUploadBytes = 50 << 20

type Server struct {
	store   *jobs.Store
	orch    *orchestrator.Orchestrator
	gateway Gateway
	auth    *auth.Authenticator

	maxUploadBytes  int64
	defaultLanguage string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithDefaultLanguage(lang string) Option {
	return func(s *Server) {
		s.defaultLanguage = lang
	}
}

func NewServer(store *jobs.Store, orch *orchestrator.Orchestrator, gateway Gateway, authn *auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		store:          store,
		orch:           orch,
		gateway:        gateway,
		auth:           authn,
		maxUploadBytes: defaultMaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/transcriptions", s.handleTranscriptions)
	s.mux.HandleFunc("/api/transcriptions/update", s.handleUpdateTranscription)
	s.mux.HandleFunc("/api/jobs", s.handleListJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/admin/users", s.handleAdminUsers)
}
