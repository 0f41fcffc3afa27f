package binder

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/matcher"
)

// BankSource supplies the bank a track is matched against.
type BankSource interface {
	Bank(ctx context.Context) (matcher.Bank, error)
}

// BankFunc adapts a function to BankSource.
type BankFunc func(ctx context.Context) (matcher.Bank, error)

// Bank implements BankSource.
func (f BankFunc) Bank(ctx context.Context) (matcher.Bank, error) { return f(ctx) }

// StaticBank is a BankSource that always returns itself.
type StaticBank matcher.Bank

// Bank implements BankSource.
func (b StaticBank) Bank(context.Context) (matcher.Bank, error) { return matcher.Bank(b), nil }

// Extractor produces the embedding of a track. It is called at most once per
// track.
type Extractor func(ctx context.Context) (embedding.Embedding, error)

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithResolveHook registers fn to be called after every Resolve with
// whether the decision was already locked.
func WithResolveHook(fn func(cached bool)) Option {
	return func(b *Binder) {
		b.onResolve = fn
	}
}

// Binder maps track ids to locked decisions. It is safe for concurrent use.
type Binder struct {
	matcher   *matcher.Matcher
	source    BankSource
	logger    *slog.Logger
	onResolve func(cached bool)

	mu      sync.Mutex
	slots   map[TrackID]*slot
	tracked *roaring64.Bitmap
}

// slot is the exclusive region of one track.
type slot struct {
	mu       sync.Mutex
	locked   bool
	decision Decision
}

// New creates a Binder matching with m against banks from source.
func New(m *matcher.Matcher, source BankSource, opts ...Option) *Binder {
	b := &Binder{
		matcher: m,
		source:  source,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		slots:   make(map[TrackID]*slot),
		tracked: roaring64.New(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Binder) slot(id TrackID) *slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok {
		s = &slot{}
		b.slots[id] = s
		b.tracked.Add(uint64(id))
	}
	return s
}

// Resolve returns the decision for id, computing and locking it on first
// use. Concurrent callers for the same id wait for and share the first
// decision; distinct ids resolve in parallel.
func (b *Binder) Resolve(ctx context.Context, id TrackID, extract Extractor) Decision {
	s := b.slot(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		b.observe(true)
		return s.decision
	}

	s.decision = b.decide(ctx, id, extract)
	s.locked = true
	b.observe(false)

	b.logger.Debug("track resolved",
		"track", uint64(id), "cat", s.decision.CatUID,
		"matched", s.decision.Matched, "score", s.decision.Score)
	return s.decision
}

func (b *Binder) observe(cached bool) {
	if b.onResolve != nil {
		b.onResolve(cached)
	}
}

func (b *Binder) decide(ctx context.Context, id TrackID, extract Extractor) Decision {
	bank, err := b.source.Bank(ctx)
	if err != nil {
		b.logger.Warn("bank lookup failed", "track", uint64(id), "error", err)
		return Unmatched(0)
	}
	if !bank.Matchable() {
		return Unmatched(0)
	}

	query, err := extract(ctx)
	if err != nil {
		b.logger.Warn("embedding extraction failed", "track", uint64(id), "error", err)
		return Unmatched(0)
	}

	res, err := b.matcher.Identify(query, bank)
	if err != nil {
		b.logger.Warn("matching failed", "track", uint64(id), "error", err)
		return Unmatched(0)
	}
	if !res.Matched {
		return Unmatched(res.Score)
	}
	return Matched(res.CatUID, res.Score)
}

// Lookup returns the locked decision of id, if any.
func (b *Binder) Lookup(id TrackID) (Decision, bool) {
	b.mu.Lock()
	s, ok := b.slots[id]
	b.mu.Unlock()
	if !ok {
		return Decision{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision, s.locked
}

// Release forgets id. A later Resolve starts over.
func (b *Binder) Release(id TrackID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.slots, id)
	b.tracked.Remove(uint64(id))
}

// Reap forgets every track not in active and returns how many were dropped.
func (b *Binder) Reap(active []TrackID) int {
	keep := roaring64.New()
	for _, id := range active {
		keep.Add(uint64(id))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stale := roaring64.AndNot(b.tracked, keep)
	it := stale.Iterator()
	for it.HasNext() {
		delete(b.slots, TrackID(it.Next()))
	}
	b.tracked.AndNot(stale)
	return int(stale.GetCardinality())
}

// Len returns the number of tracked ids.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}
