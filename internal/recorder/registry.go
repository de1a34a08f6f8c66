package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ios-tooling/tapedeck/internal/catalog"
	"github.com/ios-tooling/tapedeck/internal/convert"
	"github.com/ios-tooling/tapedeck/internal/metrics"
)

// RegistryConfig contains configuration for the session registry
type RegistryConfig struct {
	Root          string        // sessions are created in <Root>/<id> unless named
	IdleTimeout   time.Duration // zero disables idle cleanup
	CheckInterval time.Duration
	Defaults      SessionConfig // template for new sessions
}

// Registry manages all active recording sessions
type Registry struct {
	config    RegistryConfig
	converter convert.Converter
	catalog   *catalog.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics

	sessions map[string]*Session
	mu       sync.RWMutex

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a registry and starts its idle cleanup routine.
// store may be nil.
func NewRegistry(config RegistryConfig, conv convert.Converter, store *catalog.Store, logger *slog.Logger, m *metrics.Metrics) (*Registry, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("registry root cannot be empty")
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
		if config.IdleTimeout > 0 && config.IdleTimeout/2 < config.CheckInterval {
			config.CheckInterval = config.IdleTimeout / 2
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		config:    config,
		converter: conv,
		catalog:   store,
		logger:    logger,
		metrics:   m,
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go r.startCleanupRoutine()
	return r, nil
}

// Create starts a new session from the registry defaults. The name, when
// given, becomes the session directory; otherwise the session ID does.
func (r *Registry) Create(name string) (*Session, error) {
	cfg := r.config.Defaults
	cfg.Name = name
	return r.CreateWith(cfg)
}

// CreateWith starts a session from an explicit configuration. An empty
// Directory is derived from the registry root.
func (r *Registry) CreateWith(cfg SessionConfig) (*Session, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Directory == "" {
		dirName := cfg.ID
		if cfg.Name != "" {
			dirName = cfg.Name
		}
		cfg.Directory = filepath.Join(r.config.Root, dirName)
	}

	s, err := NewSession(cfg, r.converter, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, existing := range r.sessions {
		if existing.Dir == s.Dir {
			r.mu.Unlock()
			return nil, fmt.Errorf("a session is already recording into %s", s.Dir)
		}
	}
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if err := s.Start(); err != nil {
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	r.metrics.SetActiveSessions(count)
	r.record(s)
	return s, nil
}

// Get retrieves an active session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns information on every active session, oldest first
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// Finish finalizes a session and removes it from the registry
func (r *Registry) Finish(ctx context.Context, id string) (Sidecar, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return Sidecar{}, fmt.Errorf("no active session %s", id)
	}
	r.metrics.SetActiveSessions(count)

	sidecar, err := s.Finish(ctx)
	r.record(s)
	return sidecar, err
}

// record stores the session's current state in the catalog
func (r *Registry) record(s *Session) {
	if r.catalog == nil {
		return
	}
	sc := s.Sidecar()
	entry := catalog.Recording{
		ID:              sc.ID,
		Name:            sc.Name,
		Directory:       s.Dir,
		Output:          string(sc.Output),
		TargetType:      sc.TargetType,
		StartedAt:       sc.StartedAt,
		EndedAt:         sc.EndedAt,
		DurationSeconds: sc.DurationSeconds,
		Location:        sc.Location,
		Error:           sc.Error,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.catalog.Upsert(ctx, entry); err != nil {
		r.logger.Warn("Failed to update catalog",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
}

// Stop finishes every session in parallel and stops the cleanup routine
func (r *Registry) Stop(ctx context.Context) error {
	r.logger.Info("Stopping session registry...")

	r.cancel()
	<-r.cleanup

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := r.Finish(ctx, id)
			return err
		})
	}
	err := g.Wait()

	r.logger.Info("Session registry stopped", slog.Int("finished_sessions", len(ids)))
	return err
}

// startCleanupRoutine runs in a separate goroutine to finish idle sessions
func (r *Registry) startCleanupRoutine() {
	defer close(r.cleanup)

	if r.config.IdleTimeout <= 0 {
		<-r.ctx.Done()
		return
	}

	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	r.logger.Debug("Session cleanup routine started",
		slog.Duration("idle_timeout", r.config.IdleTimeout),
		slog.Duration("check_interval", r.config.CheckInterval))

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.finishIdleSessions()
		}
	}
}

// finishIdleSessions finalizes sessions that have received nothing for too long
func (r *Registry) finishIdleSessions() {
	now := time.Now()
	var idle []string

	r.mu.RLock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.config.IdleTimeout {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	if len(idle) == 0 {
		return
	}
	r.logger.Info("Finishing idle sessions", slog.Int("idle_count", len(idle)))

	for _, id := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		_, err := r.Finish(ctx, id)
		cancel()
		if err != nil {
			r.logger.Warn("Failed to finish idle session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}
}
