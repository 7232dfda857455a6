package executor

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/rzbill/conduit/pkg/log"
)

type terminable interface {
	Executor
	AwaitTermination(ctx context.Context) error
}

// Manager builds pools sharing one name pattern and logger and shuts them
// all down together.
type Manager struct {
	pattern string
	logger  log.Logger

	mu    sync.Mutex
	pools []terminable
}

// NewManager validates pattern (empty means DefaultPattern) and returns a Manager.
func NewManager(pattern string, logger log.Logger) (*Manager, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{pattern: pattern, logger: logger}, nil
}

// Pattern returns the worker name pattern.
func (m *Manager) Pattern() string { return m.pattern }

func (m *Manager) opts(extra []Option) []Option {
	return append([]Option{WithPattern(m.pattern), WithLogger(m.logger)}, extra...)
}

func (m *Manager) track(p terminable) {
	m.mu.Lock()
	m.pools = append(m.pools, p)
	m.mu.Unlock()
}

// NewFixedPool builds and tracks a fixed pool.
func (m *Manager) NewFixedPool(name string, size int, opts ...Option) (*Pool, error) {
	p, err := NewFixedPool(name, size, m.opts(opts)...)
	if err != nil {
		return nil, err
	}
	m.track(p)
	return p, nil
}

// NewSinglePool builds and tracks a single-worker pool.
func (m *Manager) NewSinglePool(name string, opts ...Option) (*Pool, error) {
	return m.NewFixedPool(name, 1, opts...)
}

// NewScheduledPool builds and tracks a scheduled pool.
func (m *Manager) NewScheduledPool(name string, size int, opts ...Option) (*ScheduledExecutor, error) {
	s, err := NewScheduledPool(name, size, m.opts(opts)...)
	if err != nil {
		return nil, err
	}
	m.track(s)
	return s, nil
}

// ShutdownAll shuts down every tracked pool and waits for them until ctx
// is done. Pools that fail to terminate in time are reported together.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	for _, p := range pools {
		p.Shutdown()
	}
	var err error
	for _, p := range pools {
		err = multierr.Append(err, p.AwaitTermination(ctx))
	}
	if err != nil {
		m.logger.Warn("executors did not terminate in time", log.Err(err))
	}
	return err
}
