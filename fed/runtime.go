package fed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// version is reported by Version and the CLI.
const version = "0.3.0"

// Version returns the client library version.
func Version() string {
	return version
}

// Runtime owns the cores used by the federates of one process. It replaces
// the one-time native library load of the bindings: create it once, create
// federates from it, and Close it when done. Close is idempotent.
type Runtime struct {
	mu     sync.Mutex
	clock  clock.Clock
	cores  map[coreKey]Core
	closed bool
}

type coreKey struct {
	typ    CoreType
	broker string
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithClock replaces the wall clock used for wait limits and backoff sleeps.
func WithClock(c clock.Clock) RuntimeOption {
	return func(r *Runtime) {
		r.clock = c
	}
}

// NewRuntime creates a Runtime.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		clock: clock.New(),
		cores: make(map[coreKey]Core),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateFederate validates cfg, connects to (or reuses) the core named by its
// init string and registers a federate called name.
func (r *Runtime) CreateFederate(name string, cfg *Config) (*Federate, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty federate name", ErrConfig)
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initOpts, err := ParseInitString(cfg.CoreInitString)
	if err != nil {
		return nil, err
	}
	waitLimit := cfg.WaitLimit
	if initOpts.Timeout > 0 {
		waitLimit = initOpts.Timeout
	}

	core, err := r.connect(cfg, initOpts)
	if err != nil {
		return nil, err
	}
	id, err := core.RegisterFederate(name, FederateOptions{TimeDelta: cfg.TimeDelta, WaitLimit: waitLimit})
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Federate %s registered with core %s (type=%s)", name, core.Name(), cfg.CoreType)
	return newFederate(name, id, *cfg, core), nil
}

// connect returns the core for cfg, creating it with bounded retries. The
// runtime lock is held only to look up and store cores, never across a
// factory call or a backoff sleep.
func (r *Runtime) connect(cfg *Config, initOpts InitOptions) (Core, error) {
	key := coreKey{typ: cfg.CoreType, broker: initOpts.Broker}
	if core, err := r.cachedCore(key); core != nil || err != nil {
		return core, err
	}

	name := cfg.CoreName
	if name == "" {
		name = initOpts.Broker
	}
	coreOpts := CoreOptions{Type: cfg.CoreType, Name: name, Federates: initOpts.Federates, Clock: r.clock}
	bo := newBackoff(cfg.Backoff)
	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			delay := bo.next()
			logrus.Warnf("Core %s (%s) unreachable, retry %d/%d in %s: %v",
				name, cfg.CoreType, attempt, cfg.ConnectRetries, delay, lastErr)
			r.clock.Sleep(delay)
			if core, err := r.cachedCore(key); core != nil || err != nil {
				return core, err
			}
		}
		factory, err := lookupCoreFactory(cfg.CoreType)
		if err != nil {
			lastErr = err
			continue
		}
		core, err := factory(coreOpts)
		if err == nil {
			return r.storeCore(key, core)
		}
		if !errors.Is(err, ErrConnection) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("connecting to core %s after %d attempts: %w", name, cfg.ConnectRetries+1, lastErr)
}

// cachedCore returns the core already created for key, or an error once the
// runtime is closed. Both results are nil when the core must be created.
func (r *Runtime) cachedCore(key coreKey) (Core, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: runtime is closed", ErrConnection)
	}
	return r.cores[key], nil
}

// storeCore records a freshly created core. When a concurrent connect stored
// one for the same key first, or the runtime closed meanwhile, the new core is
// closed again.
func (r *Runtime) storeCore(key coreKey, core Core) (Core, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = core.Close()
		return nil, fmt.Errorf("%w: runtime is closed", ErrConnection)
	}
	if existing, ok := r.cores[key]; ok {
		_ = core.Close()
		return existing, nil
	}
	r.cores[key] = core
	return core, nil
}

// Close shuts down every core the runtime created. Federates that were not
// finalized lose their core; later calls on them fail with ErrConnection.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for key, core := range r.cores {
		if err := core.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing core %s: %w", core.Name(), err))
		}
		delete(r.cores, key)
	}
	return errors.Join(errs...)
}
