package script

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/shared/id"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCleanupTimeout bounds one page-side cleanup.
const DefaultCleanupTimeout = 5 * time.Second

// CleanupFunc releases everything a script owns.
type CleanupFunc func(ctx context.Context) error

type entry struct {
	id        string
	mode      Mode
	channel   *Channel
	cleanup   CleanupFunc
	state     State
	startedAt time.Time
}

// Registry maps live script identities to their channel and cleanup action.
type Registry struct {
	mu             sync.Mutex
	entries        map[string]*entry
	cleanupTimeout time.Duration
	logger         *zap.Logger
	metrics        *monitoring.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:        make(map[string]*entry),
		cleanupTimeout: DefaultCleanupTimeout,
		logger:         logger,
	}
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// WithCleanupTimeout overrides DefaultCleanupTimeout.
func (r *Registry) WithCleanupTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.cleanupTimeout = d
	}
	return r
}

// GenerateID returns a new identity, unique for the process lifetime.
func (r *Registry) GenerateID() string {
	return id.NewScriptID().String()
}

// Register inserts a running entry. It fails if id is already present.
func (r *Registry) Register(id string, mode Mode, ch *Channel, cleanup CleanupFunc) error {
	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.entries[id] = &entry{
		id:        id,
		mode:      mode,
		channel:   ch,
		cleanup:   cleanup,
		state:     StateRunning,
		startedAt: time.Now(),
	}
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetScriptsActive(count)
	}
	return nil
}

// Stop tears down id. The first call runs cleanup, removes the entry and
// returns true; any call that finds no running entry returns false.
// Cleanup failures are logged and never returned.
func (r *Registry) Stop(ctx context.Context, id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.state != StateRunning {
		r.mu.Unlock()
		return false
	}
	e.state = StateStopped
	r.mu.Unlock()

	r.runCleanup(ctx, e)

	r.mu.Lock()
	delete(r.entries, id)
	count := len(r.entries)
	r.mu.Unlock()

	// The entry is gone before the channel closes, so consumers never
	// see a closed stream for a script still listed as running.
	reason := ReasonStopped
	if e.channel != nil {
		e.channel.CloseContext(ctx, ReasonStopped)
		reason = e.channel.Reason()
	}

	r.logger.Info("Script stopped",
		zap.String("script_id", id),
		zap.String("reason", string(reason)))
	if r.metrics != nil {
		r.metrics.SetScriptsActive(count)
		r.metrics.RecordScriptStopped(string(reason))
	}
	return true
}

func (r *Registry) runCleanup(ctx context.Context, e *entry) {
	if e.cleanup == nil {
		return
	}

	// Cleanup outlives a cancelled caller but not its deadline.
	bounded := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		bounded, cancelDeadline = context.WithDeadline(bounded, deadline)
		defer cancelDeadline()
	}
	ctx, cancel := context.WithTimeout(bounded, r.cleanupTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.cleanupFailed(e.id, fmt.Errorf("cleanup panic: %v", p))
		}
	}()

	if err := e.cleanup(ctx); err != nil {
		r.cleanupFailed(e.id, err)
	}
}

func (r *Registry) cleanupFailed(id string, err error) {
	r.logger.Warn("Script cleanup failed",
		zap.String("script_id", id),
		zap.Error(err))
	if r.metrics != nil {
		r.metrics.RecordCleanupFailure()
	}
}

// StopAll stops every current entry concurrently and waits for all of them.
// It returns the number of entries this call stopped.
func (r *Registry) StopAll(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		stopped int
	)
	for _, id := range ids {
		g.Go(func() error {
			if r.Stop(ctx, id) {
				mu.Lock()
				stopped++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return stopped
}

// channels returns the channels of running entries.
func (r *Registry) channels() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Channel, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == StateRunning && e.channel != nil {
			out = append(out, e.channel)
		}
	}
	return out
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// List returns all entries, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of entries, including ones being stopped.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (e *entry) info() Info {
	info := Info{
		ID:        e.id,
		Mode:      e.mode,
		State:     e.state,
		StartedAt: e.startedAt,
	}
	if e.channel != nil {
		info.Events = e.channel.Delivered()
	}
	return info
}
