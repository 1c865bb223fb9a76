package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// RemoteStore is the remote document service. Subscribe blocks, delivering a
// full snapshot on start and after every remote change, until ctx is done or
// the subscription fails.
type RemoteStore interface {
	PutGuest(ctx context.Context, g models.Guest) error
	DeleteGuest(ctx context.Context, id string) error
	PatchSettings(ctx context.Context, fields map[string]any) error
	Subscribe(ctx context.Context, onSnapshot func(models.Snapshot)) error
}

// Applier receives merged-back snapshots. The registry implements it.
type Applier interface {
	ApplySnapshot(models.Snapshot)
}

// Status is the connectivity indicator shown to operators.
type Status string

const (
	StatusOffline  Status = "offline"
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
)

// Config tunes the adapter.
type Config struct {
	WriteTimeout time.Duration
	RetryDelay   time.Duration
	MaxRetry     time.Duration
}

// Adapter pushes local mutations outbound and pulls remote snapshots in.
// Outbound writes are fire-and-forget: failures are logged and flip the
// status to degraded, they are never retried and never touch local state.
// Writes reach the remote in the order they were published.
type Adapter struct {
	remote RemoteStore
	cfg    Config
	log    zerolog.Logger

	mu       sync.Mutex
	status   Status
	onStatus func(Status)

	qmu      sync.Mutex
	queue    []write
	draining bool
	inflight sync.WaitGroup
}

// write is one queued outbound operation.
type write struct {
	op string
	id string
	fn func(context.Context) error
}

// NewAdapter creates a sync adapter over remote.
func NewAdapter(remote RemoteStore, cfg Config, log zerolog.Logger) *Adapter {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 30 * time.Second
	}
	return &Adapter{
		remote: remote,
		cfg:    cfg,
		log:    log.With().Str("component", "Sync").Logger(),
		status: StatusOffline,
	}
}

// OnStatus registers a callback fired whenever the status changes.
func (a *Adapter) OnStatus(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

// Status returns the current connectivity status.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) setStatus(s Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	fn := a.onStatus
	a.mu.Unlock()

	a.log.Info().Str("status", string(s)).Msg("Sync status changed")
	if fn != nil {
		fn(s)
	}
}

// clearDegraded clears a degraded status after a successful write.
func (a *Adapter) clearDegraded() {
	a.mu.Lock()
	degraded := a.status == StatusDegraded
	a.mu.Unlock()
	if degraded {
		a.setStatus(StatusOnline)
	}
}

// PublishGuests upserts guests remotely.
func (a *Adapter) PublishGuests(guests []models.Guest) {
	for _, g := range guests {
		g := g.Clone()
		a.fire("put_guest", g.ID, func(ctx context.Context) error {
			return a.remote.PutGuest(ctx, g)
		})
	}
}

// PublishDelete removes a guest remotely.
func (a *Adapter) PublishDelete(id string) {
	a.fire("delete_guest", id, func(ctx context.Context) error {
		return a.remote.DeleteGuest(ctx, id)
	})
}

// PublishSettings patches the changed settings fields remotely.
func (a *Adapter) PublishSettings(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	patch := make(map[string]any, len(fields))
	for k, v := range fields {
		patch[k] = v
	}
	a.fire("patch_settings", "mainSettings", func(ctx context.Context) error {
		return a.remote.PatchSettings(ctx, patch)
	})
}

func (a *Adapter) fire(op, id string, fn func(context.Context) error) {
	a.inflight.Add(1)
	a.qmu.Lock()
	a.queue = append(a.queue, write{op: op, id: id, fn: fn})
	if !a.draining {
		a.draining = true
		go a.drain()
	}
	a.qmu.Unlock()
}

// drain sends queued writes one at a time until the queue is empty.
func (a *Adapter) drain() {
	for {
		a.qmu.Lock()
		if len(a.queue) == 0 {
			a.draining = false
			a.qmu.Unlock()
			return
		}
		w := a.queue[0]
		a.queue[0] = write{}
		a.queue = a.queue[1:]
		a.qmu.Unlock()

		a.send(w)
		a.inflight.Done()
	}
}

func (a *Adapter) send(w write) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	if err := w.fn(ctx); err != nil {
		a.log.Error().Err(err).Str("op", w.op).Str("id", w.id).Msg("Outbound sync failed")
		a.setStatus(StatusDegraded)
		return
	}
	a.log.Debug().Str("op", w.op).Str("id", w.id).Msg("Outbound sync ok")
	a.clearDegraded()
}

// Flush waits for in-flight outbound writes. Used on shutdown and in tests.
func (a *Adapter) Flush() {
	a.inflight.Wait()
}

// Run subscribes to remote snapshots and applies each one to dst until ctx
// is done. A failed subscription leaves the registry in local-only mode and
// is retried with exponential backoff.
func (a *Adapter) Run(ctx context.Context, dst Applier) error {
	delay := a.cfg.RetryDelay
	for {
		var received atomic.Bool
		err := a.remote.Subscribe(ctx, func(snap models.Snapshot) {
			dst.ApplySnapshot(snap)
			received.Store(true)
			a.setStatus(StatusOnline)
		})
		if ctx.Err() != nil {
			a.setStatus(StatusOffline)
			return ctx.Err()
		}

		a.setStatus(StatusOffline)
		if received.Load() {
			delay = a.cfg.RetryDelay
		}
		a.log.Warn().Err(err).Dur("retry_in", delay).Msg("Snapshot subscription lost, running local-only")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > a.cfg.MaxRetry {
			delay = a.cfg.MaxRetry
		}
	}
}
