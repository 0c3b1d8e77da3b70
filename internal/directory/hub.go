package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Loader produces the current snapshot of a document or collection path.
type Loader func(ctx context.Context, path string) (Snapshot, error)

// Hub fans change notifications out to live subscriptions. Every subscription
// owns a goroutine that reloads its path after each notification, so bursts
// of changes coalesce into one delivery and every delivered snapshot is at
// least as new as the change that triggered it.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
	load Loader
	log  *slog.Logger
}

type subscription struct {
	path     string
	onChange ChangeFunc
	onError  ErrorFunc
	dirty    chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
}

func NewHub(load Loader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[*subscription]struct{}),
		load: load,
		log:  logger,
	}
}

// Subscribe registers a listener on path. The first snapshot is delivered
// asynchronously right after registration.
func (h *Hub) Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error) {
	if _, err := Split(path); err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", path, err)
	}
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %q: nil change callback", path)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		path:     Clean(path),
		onChange: onChange,
		onError:  onError,
		dirty:    make(chan struct{}, 1),
		cancel:   cancel,
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	s.dirty <- struct{}{}
	go h.run(runCtx, s)

	return func() { h.remove(s) }, nil
}

func (h *Hub) remove(s *subscription) {
	s.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.cancel()
	})
}

func (h *Hub) run(ctx context.Context, s *subscription) {
	defer h.remove(s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}

		snap, err := h.load(ctx, s.path)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.log.Warn("subscription load failed", "path", s.path, "error", err)
			if s.onError != nil {
				s.onError(err)
			}
			continue
		}
		s.onChange(snap)
	}
}

// Notify marks every subscription that can observe docPath as stale.
func (h *Hub) Notify(docPath string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !Affects(s.path, docPath) {
			continue
		}
		select {
		case s.dirty <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		h.remove(s)
	}
}
