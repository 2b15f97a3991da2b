// Package resolver turns relative media paths into public URLs on the client
// side, coalescing concurrent lookups into batched requests and caching results
// for the life of the Resolver.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

const (
	DefaultDebounce = 75 * time.Millisecond
	DefaultBackoff  = time.Second
)

// ErrRateLimited tells the Resolver to retry the same batch after its backoff.
var ErrRateLimited = errors.New("resolver: rate limited")

// Fetcher resolves a batch of paths. The returned slice is parallel to paths.
type Fetcher interface {
	Fetch(ctx context.Context, paths []string) ([]string, error)
}

type FetcherFunc func(ctx context.Context, paths []string) ([]string, error)

func (f FetcherFunc) Fetch(ctx context.Context, paths []string) ([]string, error) {
	return f(ctx, paths)
}

type Resolver struct {
	fetcher  Fetcher
	debounce time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cache    map[string]string
	order    []string
	waiting  map[string][]func(string)
	inFlight map[string][]func(string)
	gen      uint64
	armed    bool
	cooling  bool
	closed   bool
}

type Option func(*Resolver)

func WithDebounce(d time.Duration) Option {
	return func(r *Resolver) { r.debounce = d }
}

func WithBackoff(d time.Duration) Option {
	return func(r *Resolver) { r.backoff = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func New(fetcher Fetcher, opts ...Option) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		fetcher:  fetcher,
		debounce: DefaultDebounce,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[string]string),
		waiting:  make(map[string][]func(string)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve blocks until path is resolved or ctx ends. When ctx ends first the
// path itself is returned along with the context error.
func (r *Resolver) Resolve(ctx context.Context, path string) (string, error) {
	ch := make(chan string, 1)
	r.ResolveFunc(path, func(url string) { ch <- url })
	select {
	case url := <-ch:
		return url, nil
	case <-ctx.Done():
		return path, ctx.Err()
	}
}

// ResolveFunc calls cb exactly once with the URL for path. Absolute URLs and
// cached paths are answered synchronously.
func (r *Resolver) ResolveFunc(path string, cb func(url string)) {
	if path == "" || storage.IsAbsoluteURL(path) {
		cb(path)
		return
	}

	r.mu.Lock()
	if url, ok := r.cache[path]; ok {
		r.mu.Unlock()
		cb(url)
		return
	}
	if r.closed {
		r.mu.Unlock()
		cb(path)
		return
	}
	if waiters, ok := r.inFlight[path]; ok {
		r.inFlight[path] = append(waiters, cb)
		r.mu.Unlock()
		return
	}
	_, queued := r.waiting[path]
	r.waiting[path] = append(r.waiting[path], cb)
	// Only a new path restarts the debounce window.
	if !queued {
		r.order = append(r.order, path)
		if r.inFlight == nil && !r.cooling {
			r.armLocked(r.debounce)
		}
	}
	r.mu.Unlock()
}

// armLocked (re)starts the flush timer. Older timers are invalidated by gen, so a
// timer that already fired cannot flush a batch early.
func (r *Resolver) armLocked(d time.Duration) {
	r.gen++
	gen := r.gen
	r.armed = true
	time.AfterFunc(d, func() { r.flush(gen) })
}

func (r *Resolver) flush(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		return
	}
	r.armed, r.cooling = false, false
	if r.inFlight != nil || len(r.order) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.order
	r.inFlight = r.waiting
	r.order = nil
	r.waiting = make(map[string][]func(string))
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()
	urls, err := r.fetcher.Fetch(r.ctx, batch)
	if err == nil && len(urls) != len(batch) {
		err = errors.New("resolver: response length does not match request")
	}

	r.mu.Lock()
	waiters := r.inFlight
	r.inFlight = nil
	var deliver []func()

	switch {
	case err == nil:
		for i, p := range batch {
			r.cache[p] = urls[i]
			deliver = append(deliver, notify(waiters[p], urls[i]))
		}
	case errors.Is(err, ErrRateLimited) && !r.closed:
		r.logger.Warn("path resolution rate limited, retrying", "paths", len(batch), "backoff", r.backoff)
		requeued := make(map[string][]func(string), len(batch)+len(r.waiting))
		for _, p := range batch {
			requeued[p] = append(waiters[p], r.waiting[p]...)
		}
		for _, p := range r.order {
			if _, dup := requeued[p]; !dup {
				requeued[p] = r.waiting[p]
				batch = append(batch, p)
			}
		}
		r.order, r.waiting = batch, requeued
		r.cooling = true
		r.armLocked(r.backoff)
	default:
		r.logger.Warn("path resolution failed, using paths as-is", "paths", len(batch), "error", err)
		for _, p := range batch {
			deliver = append(deliver, notify(waiters[p], p))
		}
	}

	if len(r.order) > 0 && !r.armed && !r.closed {
		r.armLocked(r.debounce)
	}
	r.mu.Unlock()

	for _, fn := range deliver {
		fn()
	}
}

func notify(cbs []func(string), url string) func() {
	return func() {
		for _, cb := range cbs {
			cb(url)
		}
	}
}

// Close stops the Resolver. Pending and in-flight paths resolve to themselves;
// later calls resolve immediately from the cache or to the path itself.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	pending := r.waiting
	r.order = nil
	r.waiting = make(map[string][]func(string))
	r.mu.Unlock()

	r.cancel()
	for p, cbs := range pending {
		notify(cbs, p)()
	}
	r.wg.Wait()
}
