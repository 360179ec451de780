package httpapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/vibetracker/internal/emotion"
	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/MimeLyc/vibetracker/internal/jobs"
	"github.com/MimeLyc/vibetracker/pkg/log"
)

// captureSink buffers incoming captures. *tracker.Coordinator satisfies it.
type captureSink interface {
	AddCapture(capture frame.Capture) *jobs.BatchJob
	Pending() int
}

type jobLister interface {
	List() []*jobs.BatchJob
	Get(id string) (*jobs.BatchJob, bool)
}

// statusCounter reports persisted ledger entries per status.
// *persistence.SQLiteStore satisfies it.
type statusCounter interface {
	CountByStatus(ctx context.Context) (map[jobs.Status]int, error)
}

type Server struct {
	captures captureSink
	store    *emotion.Store
	queue    jobLister
	counter  statusCounter

	summaryTopN    int
	maxCaptureSize int64
	streamInterval time.Duration

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUI serves a capture page from staticDir for every non-API path.
func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithStatusCounter adds persisted ledger counts to /healthz.
func WithStatusCounter(counter statusCounter) Option {
	return func(s *Server) { s.counter = counter }
}

func WithSummaryTopN(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.summaryTopN = n
		}
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(captures captureSink, store *emotion.Store, queue jobLister, opts ...Option) *Server {
	s := &Server{
		captures:       captures,
		store:          store,
		queue:          queue,
		summaryTopN:    emotion.DefaultTopN,
		maxCaptureSize: 16 << 20,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds addr. Connections are accepted once Serve runs.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Info("Listening on %s", ln.Addr())
	return ln, nil
}

// Serve accepts connections on ln until Shutdown. After Shutdown it closes ln
// and returns http.ErrServerClosed right away.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/captures", s.handleCaptures)
	s.mux.HandleFunc("/api/emotions", s.handleEmotions)
	s.mux.HandleFunc("/api/summary", s.handleSummary)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobDetail)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
