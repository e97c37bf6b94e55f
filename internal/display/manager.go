package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/pipeline"
)

// Manager errors.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrPipelineExists   = errors.New("pipeline already registered")
	ErrBusy             = errors.New("pipeline is changing state")
	ErrClosed           = errors.New("manager closed")
)

// closeTimeout bounds the teardown performed by Close.
const closeTimeout = 10 * time.Second

// managedPipeline tracks one pipeline within the manager.
type managedPipeline struct {
	p           *pipeline.Pipeline
	defaultMode hw.Mode
	mode        hw.Mode
	state       State
	enabledAt   time.Time
	enableCount int
	lastError   error
}

// Manager owns a set of named pipelines and their lifecycle state.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*managedPipeline
	order     []string
	closed    bool
	closers   []func()
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("display")
	}
	return &Manager{
		opts:      opts,
		logger:    logger,
		pipelines: make(map[string]*managedPipeline),
	}
}

// Add registers a disabled pipeline. defaultMode is used by Enable when no
// mode is given.
func (m *Manager) Add(p *pipeline.Pipeline, defaultMode hw.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.pipelines[p.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrPipelineExists, p.Name())
	}
	m.pipelines[p.Name()] = &managedPipeline{
		p:           p,
		defaultMode: defaultMode,
		state:       StateIdle,
	}
	m.order = append(m.order, p.Name())
	return nil
}

// onClose registers cleanup run by Close after every pipeline is closed.
func (m *Manager) onClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, fn)
}

func (m *Manager) get(name string) (*managedPipeline, error) {
	mp, ok := m.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return mp, nil
}

// Pipeline returns the named pipeline.
func (m *Manager) Pipeline(name string) (*pipeline.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return mp.p, nil
}

// Enable powers up a pipeline. A nil mode uses the pipeline's default mode.
// A pipeline in the error state is torn down first.
func (m *Manager) Enable(name string, mode *hw.Mode) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	mp, err := m.get(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	switch mp.state {
	case StateEnabled:
		m.mu.Unlock()
		return nil
	case StateEnabling, StateDisabling:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrBusy, name, mp.state)
	}

	target := mp.defaultMode
	if mode != nil {
		target = *mode
	}
	oldState := mp.state
	mp.state = StateEnabling
	m.mu.Unlock()

	m.notifyStateChange(name, oldState, StateEnabling, nil)
	m.logger.Info("Enabling pipeline", "pipeline", name, "mode", target.String())

	// A failed enable may have left the chain connected.
	if oldState == StateError {
		if err = mp.p.Disable(context.Background()); err != nil {
			m.logger.Warn("Cleanup before enable failed", "pipeline", name, "error", err)
		}
	}
	if err == nil {
		err = mp.p.Enable(target)
	}

	m.mu.Lock()
	if err != nil {
		mp.state = StateError
		mp.lastError = err
	} else {
		mp.state = StateEnabled
		mp.mode = target
		mp.enabledAt = time.Now()
		mp.enableCount++
		mp.lastError = nil
	}
	newState := mp.state
	m.mu.Unlock()

	m.notifyStateChange(name, StateEnabling, newState, err)
	if err != nil {
		m.logger.Error("Failed to enable pipeline", "pipeline", name, "error", err)
		return fmt.Errorf("failed to enable %s: %w", name, err)
	}
	return nil
}

// Disable tears a pipeline down. Pipelines in the error state are cleaned up
// the same way.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	mp, err := m.get(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	switch mp.state {
	case StateIdle:
		m.mu.Unlock()
		return nil
	case StateEnabling, StateDisabling:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrBusy, name, mp.state)
	}
	oldState := mp.state
	mp.state = StateDisabling
	m.mu.Unlock()

	m.notifyStateChange(name, oldState, StateDisabling, nil)
	m.logger.Info("Disabling pipeline", "pipeline", name)

	err = mp.p.Disable(ctx)

	m.mu.Lock()
	if err != nil {
		mp.state = StateError
		mp.lastError = err
	} else {
		mp.state = StateIdle
		mp.enabledAt = time.Time{}
	}
	newState := mp.state
	m.mu.Unlock()

	m.notifyStateChange(name, StateDisabling, newState, err)
	if err != nil {
		return fmt.Errorf("failed to disable %s: %w", name, err)
	}
	return nil
}

// Commit stages changes on a pipeline and flushes them.
func (m *Manager) Commit(name string, changes pipeline.Changes, wantEvent bool) (*pipeline.CompletionEvent, error) {
	p, err := m.Pipeline(name)
	if err != nil {
		return nil, err
	}
	ev, err := p.Commit(changes, wantEvent)
	if err == nil && changes.Mode != nil {
		m.mu.Lock()
		if mp, ok := m.pipelines[name]; ok && mp.state == StateEnabled {
			mp.mode = *changes.Mode
		}
		m.mu.Unlock()
	}
	return ev, err
}

// Connectivity selects the output route of a pipeline from an encoder mask.
func (m *Manager) Connectivity(name string, encoderMask uint32) (bool, error) {
	p, err := m.Pipeline(name)
	if err != nil {
		return false, err
	}
	return p.ConnectivityUpdate(encoderMask)
}

// Status returns the lifecycle and pipeline status of name.
func (m *Manager) Status(name string) (*Info, error) {
	m.mu.RLock()
	mp, err := m.get(name)
	if err != nil {
		m.mu.RUnlock()
		return nil, err
	}
	info := m.infoLocked(name, mp)
	m.mu.RUnlock()

	info.Pipeline = mp.p.Status()
	return &info, nil
}

// List returns every pipeline in registration order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.order))
	ps := make([]*pipeline.Pipeline, 0, len(m.order))
	for _, name := range m.order {
		mp := m.pipelines[name]
		infos = append(infos, m.infoLocked(name, mp))
		ps = append(ps, mp.p)
	}
	m.mu.RUnlock()

	for i, p := range ps {
		infos[i].Pipeline = p.Status()
	}
	return infos
}

func (m *Manager) infoLocked(name string, mp *managedPipeline) Info {
	mode := mp.mode
	if mp.state != StateEnabled {
		mode = mp.defaultMode
	}
	return Info{
		Name:        name,
		State:       mp.state,
		Mode:        mode,
		EnabledAt:   mp.enabledAt,
		EnableCount: mp.enableCount,
		LastError:   mp.lastError,
	}
}

// EnableAll enables every idle pipeline concurrently with its default mode.
func (m *Manager) EnableAll(ctx context.Context) error {
	return m.forEach(ctx, func(name string, state State) bool {
		return state == StateIdle
	}, func(ctx context.Context, name string) error {
		return m.Enable(name, nil)
	})
}

// DisableAll disables every pipeline that is not idle concurrently.
func (m *Manager) DisableAll(ctx context.Context) error {
	return m.forEach(ctx, func(name string, state State) bool {
		return state == StateEnabled || state == StateError
	}, m.Disable)
}

func (m *Manager) forEach(ctx context.Context, match func(string, State) bool, fn func(context.Context, string) error) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if match(name, m.pipelines[name].state) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return fn(gctx, name)
		})
	}
	return g.Wait()
}

// Close disables every pipeline, closes them and runs registered cleanup.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("Shutting down display")
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := m.DisableAll(ctx); err != nil {
		m.logger.Warn("Pipeline teardown incomplete", "error", err)
	}

	m.mu.RLock()
	ps := make([]*pipeline.Pipeline, 0, len(m.order))
	for _, name := range m.order {
		ps = append(ps, m.pipelines[name].p)
	}
	closers := m.closers
	m.mu.RUnlock()

	for _, p := range ps {
		p.Close()
	}
	for _, fn := range closers {
		fn()
	}
	m.logger.Info("Display stopped")
}

// notifyStateChange invokes the OnStateChange callback if configured.
func (m *Manager) notifyStateChange(name string, oldState, newState State, err error) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(name, oldState, newState, err)
	}
}
