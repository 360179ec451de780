// Package service wires the tracker components together and runs them until
// the context is cancelled.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/vibetracker/internal/config"
	"github.com/MimeLyc/vibetracker/internal/emotion"
	"github.com/MimeLyc/vibetracker/internal/foreground"
	"github.com/MimeLyc/vibetracker/internal/httpapi"
	"github.com/MimeLyc/vibetracker/internal/hume"
	"github.com/MimeLyc/vibetracker/internal/jobs"
	"github.com/MimeLyc/vibetracker/internal/persistence"
	"github.com/MimeLyc/vibetracker/internal/tracker"
	"github.com/MimeLyc/vibetracker/pkg/icron"
	"github.com/MimeLyc/vibetracker/pkg/log"
)

const (
	shutdownTimeout = 10 * time.Second
	lockFileName    = "vibetracker.lock"
)

type Service struct {
	cfg *config.Config

	store       *emotion.Store
	dirLock     *flock.Flock
	closeLedger func() error
	closeOnce   sync.Once
	queue       *jobs.Queue
	coordinator *tracker.Coordinator
	server      *httpapi.Server
	cron        *cron.Cron

	rollover    singleflight.Group
	mu          sync.Mutex
	windowStart time.Time
}

type Option func(*options)

type options struct {
	client   tracker.JobClient
	resolver foreground.Resolver
	ledger   jobs.Store
}

// WithJobClient replaces the analysis service client.
func WithJobClient(client tracker.JobClient) Option {
	return func(o *options) { o.client = client }
}

func WithResolver(resolver foreground.Resolver) Option {
	return func(o *options) { o.resolver = resolver }
}

// WithLedgerStore replaces the SQLite ledger database.
func WithLedgerStore(store jobs.Store) Option {
	return func(o *options) { o.ledger = store }
}

// New builds every component from cfg. Persisted batches are loaded into the
// ledger but not run until Run starts the workers.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// one daemon per data dir, the ledger database is not shared
	dirLock := flock.New(filepath.Join(cfg.System.DataDir, lockFileName))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another vibetracker", cfg.System.DataDir)
	}
	svc, err := build(cfg, o)
	if err != nil {
		_ = dirLock.Unlock()
		return nil, err
	}
	svc.dirLock = dirLock
	return svc, nil
}

func build(cfg *config.Config, o options) (*Service, error) {
	if o.client == nil {
		client, err := hume.NewClient(&hume.Config{
			APIURL:            cfg.Hume.APIURL,
			Timeout:           cfg.Hume.Timeout,
			RequestsPerSecond: cfg.Hume.RequestsPerSecond,
			Burst:             cfg.Hume.Burst,
		})
		if err != nil {
			return nil, err
		}
		o.client = client
	}

	if o.resolver == nil {
		resolver, err := newResolver(cfg.Foreground)
		if err != nil {
			return nil, err
		}
		o.resolver = resolver
	}

	closeLedger := func() error { return nil }
	if o.ledger == nil {
		sqlite, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open ledger database: %w", err)
		}
		o.ledger = sqlite
		closeLedger = sqlite.Close
	}

	serverOpts := []httpapi.Option{
		httpapi.WithSummaryTopN(cfg.Tracker.SummaryTopN),
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIStaticDir != ""),
	}
	if sqlite, ok := o.ledger.(*persistence.SQLiteStore); ok {
		serverOpts = append(serverOpts, httpapi.WithStatusCounter(sqlite))
	}

	store := emotion.NewStore()
	queue := jobs.NewQueue(cfg.Tracker.Workers, o.ledger)
	coordinator := tracker.NewCoordinator(tracker.Options{
		Threshold: cfg.Tracker.BatchSize,
		Credentials: hume.Credentials{
			APIKey:    cfg.Hume.APIKey,
			SecretKey: cfg.Hume.SecretKey,
		},
		Poll: hume.PollOptions{
			Interval:    cfg.Tracker.PollInterval,
			MaxAttempts: cfg.Tracker.PollMaxAttempts,
		},
		SubmitRetries:    cfg.Tracker.SubmitRetries,
		SubmitBackoff:    cfg.Tracker.SubmitBackoff,
		RequeueOnTimeout: cfg.Tracker.RequeueOnTimeout,
		SummaryPath:      cfg.SummaryPath(),
		SummaryTopN:      cfg.Tracker.SummaryTopN,
	}, o.client, queue, o.resolver, store)

	server := httpapi.NewServer(coordinator, store, queue, serverOpts...)

	return &Service{
		cfg:         cfg,
		store:       store,
		closeLedger: closeLedger,
		queue:       queue,
		coordinator: coordinator,
		server:      server,
		cron:        cron.New(),
		windowStart: time.Now(),
	}, nil
}

func newResolver(cfg config.ForegroundConfig) (foreground.Resolver, error) {
	if cfg.Command == "" {
		return foreground.Static(cfg.App), nil
	}
	resolver, err := foreground.NewCommandResolver(cfg.Command, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	// a missing binary would tag every record unknown, fail at startup instead
	name := strings.Fields(cfg.Command)[0]
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("foreground command %q: %w", name, err)
	}
	return resolver, nil
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

func (s *Service) Store() *emotion.Store {
	return s.store
}

func (s *Service) Queue() *jobs.Queue {
	return s.queue
}

func (s *Service) Coordinator() *tracker.Coordinator {
	return s.coordinator
}

// Schedule registers the rollover job. An empty expression disables it.
func (s *Service) Schedule() error {
	expr := s.cfg.System.RolloverCron
	if expr == "" {
		return nil
	}

	rollover := func() {
		if _, err := s.Rollover(); err != nil {
			log.Error("Rollover failed: %v", err)
		}
	}
	if _, err := s.cron.AddFunc(expr, rollover); err != nil {
		return fmt.Errorf("schedule rollover: %w", err)
	}

	if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
		log.Info("Next rollover at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// Rollover archives a summary of the current window and clears the store.
// Concurrent calls share one run.
func (s *Service) Rollover() (string, error) {
	v, err, _ := s.rollover.Do("rollover", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		records := s.store.Drain()
		path := s.rolloverPath()
		summary := emotion.Summarize(records, s.cfg.Tracker.SummaryTopN)
		if err := emotion.WriteSummaryFile(path, summary); err != nil {
			s.store.Restore(records)
			return "", fmt.Errorf("write %s: %w", path, err)
		}

		s.windowStart = time.Now()
		log.Info("Rolled over %d emotion records into %s", len(records), path)
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// rolloverPath names the archive after the window start. A second rollover on
// the same day gets the start time appended instead of overwriting.
func (s *Service) rolloverPath() string {
	path := s.cfg.RolloverPath(s.windowStart)
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + s.windowStart.Format("-150405") + ext
}

// Run starts the ledger workers, the rollover schedule and the HTTP server,
// and blocks until ctx is cancelled or the server fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.Schedule(); err != nil {
		return err
	}

	// bind before anything starts so shutdown always has a listener to close
	ln, err := s.server.Listen(s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	s.queue.Start(s.coordinator.Execute)
	s.cron.Start()

	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	s.shutdown()
	// Serve has returned and closed the listener once serverErr is closed
	<-serverErr
	return runErr
}

// Close releases the ledger database and the data dir lock. Run calls it on exit.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if err := s.closeLedger(); err != nil {
			log.Warn("Failed to close ledger database: %v", err)
		}
		if s.dirLock != nil {
			if err := s.dirLock.Unlock(); err != nil {
				log.Warn("Failed to unlock data dir: %v", err)
			}
		}
	})
}

func (s *Service) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	<-s.cron.Stop().Done()

	if s.cfg.Tracker.FlushOnShutdown {
		if job := s.coordinator.Flush(); job != nil {
			s.waitForJob(shutdownCtx, job.ID)
		}
	} else if pending := s.coordinator.Pending(); pending > 0 {
		log.Info("Discarding %d buffered captures", pending)
	}

	s.queue.Stop()
}

// waitForJob gives a flushed batch until ctx expires to finish.
func (s *Service) waitForJob(ctx context.Context, id string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if job, ok := s.queue.Get(id); !ok || job.Status.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("Flushed batch %s still running at shutdown", id)
			return
		case <-ticker.C:
		}
	}
}
