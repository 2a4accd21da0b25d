package core

import (
	"context"
	"errors"
	"sync"

	"reactorboard/pkg/domain"
)

// Handles holds the two storage sessions of one request. Each session is
// opened on first use and both are closed by Release.
type Handles struct {
	centralStore domain.CentralStore
	localCache   domain.LocalCache

	mu      sync.Mutex
	central domain.CentralSession
	local   domain.LocalSession
}

// NewHandles prepares lazily acquired sessions on the given stores. Either
// store may be nil when the process does not have one.
func NewHandles(central domain.CentralStore, local domain.LocalCache) *Handles {
	return &Handles{centralStore: central, localCache: local}
}

var errNoCentralStore = errors.New("central store not configured")
var errNoLocalCache = errors.New("local cache not configured")

// Central returns the request's central session, opening it if needed.
func (h *Handles) Central(ctx context.Context) (domain.CentralSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.central != nil {
		return h.central, nil
	}
	if h.centralStore == nil {
		return nil, errNoCentralStore
	}
	sess, err := h.centralStore.Open(ctx)
	if err != nil {
		return nil, err
	}
	h.central = sess
	return sess, nil
}

// Local returns the request's local cache session, opening it if needed.
func (h *Handles) Local(ctx context.Context) (domain.LocalSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.local != nil {
		return h.local, nil
	}
	if h.localCache == nil {
		return nil, errNoLocalCache
	}
	sess, err := h.localCache.Open(ctx)
	if err != nil {
		return nil, err
	}
	h.local = sess
	return sess, nil
}

// Acquired reports which sessions have been opened.
func (h *Handles) Acquired() (central, local bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.central != nil, h.local != nil
}

// Release closes every opened session. It is safe to call more than once.
func (h *Handles) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if h.central != nil {
		errs = append(errs, h.central.Close())
		h.central = nil
	}
	if h.local != nil {
		errs = append(errs, h.local.Close())
		h.local = nil
	}
	return errors.Join(errs...)
}

type handlesKey struct{}

// WithHandles attaches request handles to ctx.
func WithHandles(ctx context.Context, h *Handles) context.Context {
	return context.WithValue(ctx, handlesKey{}, h)
}

// HandlesFrom returns the handles attached to ctx, if any.
func HandlesFrom(ctx context.Context) (*Handles, bool) {
	h, ok := ctx.Value(handlesKey{}).(*Handles)
	return h, ok && h != nil
}

// CentralSession returns the request session from ctx, or a transient
// session on store that the returned release func closes.
func CentralSession(ctx context.Context, store domain.CentralStore) (domain.CentralSession, func() error, error) {
	if h, ok := HandlesFrom(ctx); ok {
		sess, err := h.Central(ctx)
		return sess, noRelease, err
	}
	if store == nil {
		return nil, noRelease, errNoCentralStore
	}
	sess, err := store.Open(ctx)
	if err != nil {
		return nil, noRelease, err
	}
	return sess, sess.Close, nil
}

// LocalSession is the local cache counterpart of CentralSession.
func LocalSession(ctx context.Context, cache domain.LocalCache) (domain.LocalSession, func() error, error) {
	if h, ok := HandlesFrom(ctx); ok {
		sess, err := h.Local(ctx)
		return sess, noRelease, err
	}
	if cache == nil {
		return nil, noRelease, errNoLocalCache
	}
	sess, err := cache.Open(ctx)
	if err != nil {
		return nil, noRelease, err
	}
	return sess, sess.Close, nil
}

func noRelease() error { return nil }
