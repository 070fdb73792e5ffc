// Package ingest watches the transcript directory and drives each file
// through parse, resolve, persist and notify.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

// AgentName identifies this pipeline in session and progress documents.
const AgentName = "transcript-ingestion"

// Defaults applied by New for zero Config fields.
const (
	DefaultPollInterval          = 30 * time.Second
	DefaultStabilityDelay        = 200 * time.Millisecond
	DefaultMaxFileBytes          = 750 * 1024
	DefaultMinMatchConfidence    = 0.6
	DefaultMaxUnresolvedAttempts = 20

	maxStabilityRounds = 5
)

// ErrAlreadyRunning is returned by AcquireLock when another process holds the
// lock.
var ErrAlreadyRunning = errors.New("another caseflow ingestion instance is already running")

var supportedExt = map[string]bool{".txt": true, ".md": true, ".vtt": true}

// CaseStore resolves worker names and persists notes and insights. Upserts
// must be idempotent on the note and insight ids.
type CaseStore interface {
	// FindCaseByWorkerName returns nil with a nil error when no case matches.
	FindCaseByWorkerName(ctx context.Context, name string) (*casenote.CaseMatch, error)
	UpsertCaseDiscussionNotes(ctx context.Context, notes []casenote.DiscussionNote) error
	UpsertCaseDiscussionInsights(ctx context.Context, insights []casenote.Insight) error
}

// Notifier receives one event per affected case per ingestion cycle.
type Notifier interface {
	NotifyNewDiscussionNotes(ctx context.Context, evt casenote.NotesEvent) error
}

// SessionRecorder is the subset of session.Manager the module writes to.
type SessionRecorder interface {
	UpdateProgress(processedDelta, pendingDelta int) error
	RecordError(msg string) error
}

// ProgressLogger is the subset of progress.Tracker the module writes to.
type ProgressLogger interface {
	LogAction(agent, action string, success bool, details string) error
}

// FeatureMarker is the subset of checklist.Checklist the module writes to.
type FeatureMarker interface {
	MarkFeature(id string, passes bool, errMsg string) error
}

// Config controls the module. Zero values take the package defaults.
type Config struct {
	Dir                   string
	Lock                  *flock.Flock // held by the caller for the module's lifetime; nil runs unlocked
	PollInterval          time.Duration
	StabilityDelay        time.Duration
	MaxFileBytes          int64
	MinMatchConfidence    float64
	MaxUnresolvedAttempts int
}

// Deps are the collaborators the module drives.
type Deps struct {
	Store     CaseStore
	Notifier  Notifier
	Session   SessionRecorder
	Progress  ProgressLogger
	Checklist FeatureMarker
	Logger    *slog.Logger
}

type unresolvedPass struct {
	mtime time.Time
	count int
}

// Module is the ingestion orchestrator. All per-path caches live in memory
// and are rebuilt by the startup scan.
type Module struct {
	cfg       Config
	store     CaseStore
	notifier  Notifier
	session   SessionRecorder
	progress  ProgressLogger
	checklist FeatureMarker
	logger    *slog.Logger
	now       func() time.Time

	mu              sync.Mutex
	processing      map[string]struct{}
	processed       map[string]time.Time // path -> mtime of last successful cycle
	rejected        map[string]time.Time // path -> mtime already logged as skipped
	unresolvedNames map[string]struct{}
	unresolvedPass  map[string]unresolvedPass
	parked          map[string]time.Time
	features        map[string]bool
	stopped         bool

	baseCtx   context.Context
	handlers  sync.WaitGroup
	loop      sync.WaitGroup
	watcher   *fsnotify.Watcher
	scheduler *cron.Cron
}

// New builds a module. Store and Notifier are required.
func New(cfg Config, deps Deps) (*Module, error) {
	if deps.Store == nil || deps.Notifier == nil {
		return nil, errors.New("ingest requires a case store and a notifier")
	}
	if cfg.Dir == "" {
		return nil, errors.New("ingest requires a transcript directory")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StabilityDelay < 0 {
		cfg.StabilityDelay = 0
	} else if cfg.StabilityDelay == 0 {
		cfg.StabilityDelay = DefaultStabilityDelay
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MinMatchConfidence <= 0 {
		cfg.MinMatchConfidence = DefaultMinMatchConfidence
	}
	if cfg.MaxUnresolvedAttempts <= 0 {
		cfg.MaxUnresolvedAttempts = DefaultMaxUnresolvedAttempts
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Module{
		cfg:             cfg,
		store:           deps.Store,
		notifier:        deps.Notifier,
		session:         deps.Session,
		progress:        deps.Progress,
		checklist:       deps.Checklist,
		logger:          logger.With("component", "ingest"),
		now:             func() time.Time { return time.Now().UTC() },
		processing:      make(map[string]struct{}),
		processed:       make(map[string]time.Time),
		rejected:        make(map[string]time.Time),
		unresolvedNames: make(map[string]struct{}),
		unresolvedPass:  make(map[string]unresolvedPass),
		parked:          make(map[string]time.Time),
		features:        make(map[string]bool),
		baseCtx:         context.Background(),
	}, nil
}

// AcquireLock takes the single-instance lock at path without blocking. Every
// process that writes the state documents holds it until it exits.
func AcquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return l, nil
}

// LockHeld reports whether another process holds the instance lock at path.
// Read-only commands use it; writers call AcquireLock.
func LockHeld(path string) (bool, error) {
	l, err := AcquireLock(path)
	if errors.Is(err, ErrAlreadyRunning) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if err := l.Unlock(); err != nil {
		return false, fmt.Errorf("release probe lock: %w", err)
	}
	return false, nil
}

// Start subscribes to directory changes, schedules the periodic scan and
// runs the startup scan. When Config.Lock is set it must already be held.
// Handlers run on a context detached from ctx's cancellation; use Stop and
// Wait to shut down.
func (m *Module) Start(ctx context.Context) error {
	if m.cfg.Lock != nil && !m.cfg.Lock.Locked() {
		return fmt.Errorf("instance lock %s is not held", m.cfg.Lock.Path())
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	m.baseCtx = context.WithoutCancel(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(m.cfg.Dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", m.cfg.Dir, err)
	}
	m.watcher = w
	m.loop.Add(1)
	go m.watch()

	m.scheduler = cron.New()
	if _, err := m.scheduler.AddFunc("@every "+m.cfg.PollInterval.String(), m.Scan); err != nil {
		w.Close()
		return fmt.Errorf("schedule scan: %w", err)
	}
	m.scheduler.Start()

	m.logger.Info("ingestion started",
		"dir", m.cfg.Dir,
		"poll_interval", m.cfg.PollInterval.String(),
		"stability_delay", m.cfg.StabilityDelay.String(),
	)

	m.Scan()
	return nil
}

// Stop stops accepting new work. Handlers already running finish normally.
func (m *Module) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	if m.scheduler != nil {
		<-m.scheduler.Stop().Done()
	}
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Warn("close watcher", "error", err)
		}
	}
	m.loop.Wait()
	m.logger.Info("ingestion stopped")
}

// Wait blocks until in-flight handlers finish.
func (m *Module) Wait() {
	m.handlers.Wait()
}

// Scan triggers HandleFile for every supported file in the directory.
func (m *Module) Scan() {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		m.logger.Warn("scan transcript dir", "dir", m.cfg.Dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		m.trigger(filepath.Join(m.cfg.Dir, e.Name()))
	}
}

// Supported reports whether the file extension is ingested.
func Supported(path string) bool {
	return supportedExt[strings.ToLower(filepath.Ext(path))]
}

func (m *Module) watch() {
	defer m.loop.Done()
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !Supported(ev.Name) {
				continue
			}
			m.trigger(ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watcher error", "error", err)
		}
	}
}

// trigger runs HandleFile for path on its own goroutine.
func (m *Module) trigger(path string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.handlers.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.handlers.Done()
		// Errors are logged and recorded inside HandleFile.
		_ = m.HandleFile(m.baseCtx, path)
	}()
}
