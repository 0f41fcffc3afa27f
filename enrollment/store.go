package enrollment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/codec"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/matcher"
)

const (
	embeddingsDir     = "embeddings"
	trainingImagesDir = "training_images"

	// loadConcurrency bounds parallel embedding reads while loading a scope.
	loadConcurrency = 8
)

// Sample is one enrollment input: an embedding and, optionally, the encoded
// image it was computed from.
type Sample struct {
	Embedding embedding.Embedding
	Image     []byte
	ImageExt  string // e.g. "jpg"; defaults to "jpg"
}

// RegisterResult counts what a Register call stored.
type RegisterResult struct {
	Added      int
	Duplicates int
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the metadata codec. Default codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDimension fixes the embedding length. 0 infers it from the first
// embedding seen.
func WithDimension(dim int) Option {
	return func(s *Store) {
		s.dim.Store(int64(dim))
	}
}

// WithRefreshInterval makes reads reload a scope whose snapshot is older
// than d, picking up writes from other processes. 0 disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Store) {
		s.refresh = d
	}
}

// Store is the enrollment store. It is safe for concurrent use.
type Store struct {
	blobs   blobstore.BlobStore
	codec   codec.Codec
	logger  *slog.Logger
	dim     atomic.Int64
	refresh time.Duration

	mu     sync.Mutex
	scopes map[Scope]*scopeState
}

type scopeState struct {
	writeMu sync.Mutex // serializes loads and writes
	snap    atomic.Pointer[snapshot]
}

// NewStore creates a store persisting to blobs.
func NewStore(blobs blobstore.BlobStore, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		codec:  codec.Default,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		scopes: make(map[Scope]*scopeState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dimension returns the fixed embedding length, or 0 if not yet known.
func (s *Store) Dimension() int { return int(s.dim.Load()) }

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blobstore.BlobStore { return s.blobs }

func (s *Store) state(scope Scope) *scopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scopes[scope]
	if !ok {
		st = &scopeState{}
		s.scopes[scope] = st
	}
	return st
}

// snapshot returns the current snapshot of scope, loading it on first use.
func (s *Store) snapshot(ctx context.Context, scope Scope) (*snapshot, error) {
	st := s.state(scope)
	if snap := st.snap.Load(); snap != nil && !s.stale(snap) {
		return snap, nil
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	// Another caller may have loaded it while we waited.
	prev := st.snap.Load()
	if prev != nil && !s.stale(prev) {
		return prev, nil
	}
	snap, err := s.load(ctx, scope, prev)
	if err != nil {
		return nil, err
	}
	st.snap.Store(snap)
	return snap, nil
}

func (s *Store) stale(snap *snapshot) bool {
	return s.refresh > 0 && time.Since(snap.loadedAt) > s.refresh
}

// checkEmbedding validates e against the store dimension. An inferred
// dimension is fixed only by an embedding that passed validation.
func (s *Store) checkEmbedding(e embedding.Embedding) error {
	if err := e.Validate(int(s.dim.Load())); err != nil {
		return err
	}
	if s.dim.CompareAndSwap(0, int64(len(e))) {
		return nil
	}
	return e.Validate(int(s.dim.Load()))
}

// checkSamples validates a batch before any of it can fix the dimension.
func (s *Store) checkSamples(samples []Sample) error {
	dim := int(s.dim.Load())
	for i, sm := range samples {
		want := dim
		if want == 0 && i > 0 {
			want = len(samples[0].Embedding)
		}
		if err := sm.Embedding.Validate(want); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	for i, sm := range samples {
		if err := s.checkEmbedding(sm.Embedding); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return nil
}

// load reads scope from storage. References already present in prev are
// reused instead of re-read.
func (s *Store) load(ctx context.Context, scope Scope, prev *snapshot) (*snapshot, error) {
	metaPath := scope.MetadataPath()

	data, err := blobstore.ReadAll(ctx, s.blobs, metaPath)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return buildSnapshot(scope, false, newDocument(), map[string][]Reference{}), nil
		}
		return nil, ioError("load", metaPath, err)
	}

	doc := newDocument()
	if err := s.codec.Unmarshal(data, doc); err != nil {
		return nil, ioError("decode", metaPath, err)
	}

	known := prev.byLocator()

	type slot struct {
		uid string
		ref Reference
		ok  bool
	}
	var slots []*slot
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for _, uid := range doc.order {
		for _, loc := range doc.entries[uid].Embeddings {
			sl := &slot{uid: uid}
			slots = append(slots, sl)

			if r, ok := known[loc]; ok {
				sl.ref, sl.ok = r, true
				continue
			}
			g.Go(func() error {
				ref, err := s.readReference(gctx, scope, loc)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					s.logger.Warn("skipping unreadable embedding",
						"user", scope.UserID, "device", scope.DeviceID,
						"cat", uid, "locator", loc, "error", err)
					return nil
				}
				sl.ref, sl.ok = ref, true
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := make(map[string][]Reference, len(doc.order))
	for _, sl := range slots {
		if !sl.ok {
			continue
		}
		if err := s.checkEmbedding(sl.ref.Embedding); err != nil {
			s.logger.Warn("skipping invalid embedding",
				"user", scope.UserID, "device", scope.DeviceID,
				"cat", sl.uid, "locator", sl.ref.Locator, "error", err)
			continue
		}
		refs[sl.uid] = append(refs[sl.uid], sl.ref)
	}

	return buildSnapshot(scope, true, doc, refs), nil
}

func (s *Store) readReference(ctx context.Context, scope Scope, loc string) (Reference, error) {
	var data []byte
	var err error
	for _, name := range s.candidates(scope, loc) {
		data, err = blobstore.ReadAll(ctx, s.blobs, name)
		if !errors.Is(err, blobstore.ErrNotFound) {
			break
		}
	}
	if err != nil {
		return Reference{}, err
	}
	vec, err := codec.DecodeNPY(data)
	if err != nil {
		return Reference{}, err
	}
	e := embedding.Embedding(vec)
	return Reference{Locator: loc, Embedding: e, Hash: e.Hash()}, nil
}

// candidates lists where a locator may live: relative to the scope, or
// relative to the store root as older tools wrote them.
func (s *Store) candidates(scope Scope, loc string) []string {
	loc = strings.ReplaceAll(loc, "\\", "/")
	var out []string
	if name, err := blobstore.CleanName(path.Join(scope.Dir(), loc)); err == nil {
		out = append(out, name)
	}
	if name, err := blobstore.CleanName(loc); err == nil {
		out = append(out, name)
	}
	return out
}

// mutation edits a private copy of the document and references. It reports
// whether anything changed.
type mutation func(ctx context.Context, cur *snapshot, doc *document, refs map[string][]Reference) (bool, error)

// update runs fn under the scope's write lock against freshly loaded state,
// commits the document if fn changed it and publishes the result.
func (s *Store) update(ctx context.Context, scope Scope, fn mutation) (*snapshot, error) {
	st := s.state(scope)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if locker, ok := s.blobs.(blobstore.Locker); ok {
		unlock, err := locker.Lock(ctx, scope.Dir())
		if err != nil {
			return nil, ioError("lock", scope.Dir(), err)
		}
		defer func() {
			if err := unlock(); err != nil {
				s.logger.Warn("unlock failed", "user", scope.UserID, "device", scope.DeviceID, "error", err)
			}
		}()
	}

	cur, err := s.load(ctx, scope, st.snap.Load())
	if err != nil {
		return nil, err
	}
	st.snap.Store(cur)

	doc := cur.doc.clone()
	refs := cloneRefs(cur.refs)
	changed, err := fn(ctx, cur, doc, refs)
	if err != nil || !changed {
		return cur, err
	}

	data, err := s.codec.Marshal(doc)
	if err != nil {
		return nil, ioError("encode", scope.MetadataPath(), err)
	}
	if err := s.blobs.Put(ctx, scope.MetadataPath(), data); err != nil {
		return nil, ioError("commit", scope.MetadataPath(), err)
	}

	next := buildSnapshot(scope, true, doc, refs)
	st.snap.Store(next)
	return next, nil
}

func (s *Store) putBlob(ctx context.Context, scope Scope, loc string, data []byte) error {
	name := path.Join(scope.Dir(), loc)
	if err := s.blobs.Put(ctx, name, data); err != nil {
		return ioError("write", name, err)
	}
	return nil
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}

func imageLocator(uid string, image []byte, ext string) string {
	return path.Join(trainingImagesDir, fmt.Sprintf("%s_%s.%s", uid, shortHash(image), normalizeExt(ext)))
}

func profileLocator(uid, ext string) string {
	return path.Join(trainingImagesDir, fmt.Sprintf("%s_profile.%s", uid, normalizeExt(ext)))
}

// Register appends samples to cat uid in scope, creating the cat if needed.
// Samples whose embedding is already stored on the cat, or repeated within
// the call, are skipped with their images. A non-empty name that differs
// from the stored one replaces it.
func (s *Store) Register(ctx context.Context, scope Scope, uid, name string, samples []Sample) (RegisterResult, error) {
	if err := scope.Validate(); err != nil {
		return RegisterResult{}, err
	}
	if err := ValidateID("cat", uid); err != nil {
		return RegisterResult{}, err
	}
	if err := s.checkSamples(samples); err != nil {
		return RegisterResult{}, err
	}

	var res RegisterResult
	_, err := s.update(ctx, scope, func(ctx context.Context, cur *snapshot, doc *document, refs map[string][]Reference) (bool, error) {
		res = RegisterResult{}

		e, exists := doc.get(uid)
		changed := !exists
		if !exists {
			e = &entry{Name: uid}
		}
		if name != "" && name != e.Name {
			e.Name = name
			changed = true
		}

		seen := cur.hashes(uid)
		var added []Reference
		for _, sm := range samples {
			h := sm.Embedding.Hash()
			if _, dup := seen[h]; dup {
				res.Duplicates++
				continue
			}
			seen[h] = struct{}{}

			loc := path.Join(embeddingsDir, fmt.Sprintf("%s_%s%s", uid, h[:16], codec.NPYExt))
			if err := s.putBlob(ctx, scope, loc, codec.EncodeNPY(sm.Embedding)); err != nil {
				return false, err
			}
			e.Embeddings = append(e.Embeddings, loc)
			added = append(added, Reference{Locator: loc, Embedding: sm.Embedding.Clone(), Hash: h})

			if len(sm.Image) > 0 {
				imgLoc := imageLocator(uid, sm.Image, sm.ImageExt)
				if err := s.putBlob(ctx, scope, imgLoc, sm.Image); err != nil {
					return false, err
				}
				if !slices.Contains(e.TrainingImages, imgLoc) {
					e.TrainingImages = append(e.TrainingImages, imgLoc)
				}
				if e.Profile == "" {
					profLoc := profileLocator(uid, sm.ImageExt)
					if err := s.putBlob(ctx, scope, profLoc, sm.Image); err != nil {
						return false, err
					}
					e.Profile = profLoc
				}
			}
		}
		res.Added = len(added)
		if len(added) > 0 {
			refs[uid] = append(slices.Clip(refs[uid]), added...)
			changed = true
		}
		if changed {
			doc.put(uid, e)
		}
		return changed, nil
	})
	if err != nil {
		return RegisterResult{}, err
	}

	s.logger.Debug("registered",
		"user", scope.UserID, "device", scope.DeviceID, "cat", uid,
		"added", res.Added, "duplicates", res.Duplicates)
	return res, nil
}

// AddImages appends training images to an existing cat. Images already
// stored are skipped. It returns the number added.
func (s *Store) AddImages(ctx context.Context, scope Scope, uid string, images [][]byte, ext string) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if err := ValidateID("cat", uid); err != nil {
		return 0, err
	}

	var added int
	_, err := s.update(ctx, scope, func(ctx context.Context, _ *snapshot, doc *document, _ map[string][]Reference) (bool, error) {
		added = 0
		e, ok := doc.get(uid)
		if !ok {
			return false, fmt.Errorf("%w: cat %q in %s", ErrNotFound, uid, scope)
		}
		for _, img := range images {
			if len(img) == 0 {
				continue
			}
			loc := imageLocator(uid, img, ext)
			if slices.Contains(e.TrainingImages, loc) {
				continue
			}
			if err := s.putBlob(ctx, scope, loc, img); err != nil {
				return false, err
			}
			e.TrainingImages = append(e.TrainingImages, loc)
			added++
		}
		return added > 0, nil
	})
	return added, err
}

// SetProfile stores image as the cat's profile picture and records it as a
// training image as well.
func (s *Store) SetProfile(ctx context.Context, scope Scope, uid string, image []byte, ext string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := ValidateID("cat", uid); err != nil {
		return err
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: empty profile image", ErrInvalidArgument)
	}

	_, err := s.update(ctx, scope, func(ctx context.Context, _ *snapshot, doc *document, _ map[string][]Reference) (bool, error) {
		e, ok := doc.get(uid)
		if !ok {
			return false, fmt.Errorf("%w: cat %q in %s", ErrNotFound, uid, scope)
		}
		loc := profileLocator(uid, ext)
		if err := s.putBlob(ctx, scope, loc, image); err != nil {
			return false, err
		}
		e.Profile = loc
		if !slices.Contains(e.TrainingImages, loc) {
			e.TrainingImages = append(e.TrainingImages, loc)
		}
		return true, nil
	})
	return err
}

// LookupBank returns the bank identification should use for a device. The
// device scope wins when it holds at least one matchable cat; otherwise the
// user-wide scope is used. The two are never merged.
//
// The returned entries are a private copy, but the vectors are shared with
// concurrent readers and must not be written. Use Bank.Clone to edit them.
func (s *Store) LookupBank(ctx context.Context, userID, deviceID string) (matcher.Bank, error) {
	if err := ValidateID("user", userID); err != nil {
		return nil, err
	}
	if deviceID != "" {
		dev, err := s.snapshot(ctx, DeviceScope(userID, deviceID))
		if err != nil {
			return nil, err
		}
		if dev.bank.Matchable() {
			return dev.bank.View(), nil
		}
	}

	user, err := s.snapshot(ctx, UserScope(userID))
	if err != nil {
		return nil, err
	}
	if user.bank.Matchable() {
		return user.bank.View(), nil
	}
	return nil, fmt.Errorf("%w: no matchable cats for user %q", ErrNotFound, userID)
}

// Cat returns a copy of one cat.
func (s *Store) Cat(ctx context.Context, scope Scope, uid string) (Cat, error) {
	if err := scope.Validate(); err != nil {
		return Cat{}, err
	}
	snap, err := s.snapshot(ctx, scope)
	if err != nil {
		return Cat{}, err
	}
	c, ok := snap.cat(uid)
	if !ok {
		return Cat{}, fmt.Errorf("%w: cat %q in %s", ErrNotFound, uid, scope)
	}
	return c.clone(), nil
}

// Cats returns copies of all cats of scope in document order.
func (s *Store) Cats(ctx context.Context, scope Scope) ([]Cat, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	if !snap.exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, scope)
	}
	out := make([]Cat, len(snap.cats))
	for i, c := range snap.cats {
		out[i] = c.clone()
	}
	return out, nil
}

// Reload drops the cached snapshot of scope; the next access reads storage.
func (s *Store) Reload(scope Scope) {
	s.state(scope).snap.Store(nil)
}
