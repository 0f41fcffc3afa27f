package enrollsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/embedder"
	"github.com/hupe1980/catid/enrollment"
	"github.com/hupe1980/catid/internal/resource"
)

// RemotePrefix is the root of enrollment photos in remote storage.
const RemotePrefix = "cats"

// Registrar stores registered samples. *enrollment.Store implements it.
type Registrar interface {
	Register(ctx context.Context, scope enrollment.Scope, uid, name string, samples []enrollment.Sample) (enrollment.RegisterResult, error)
	Dimension() int
}

// Config tunes downloads.
type Config struct {
	// Concurrency caps parallel downloads. Default 4.
	Concurrency int `yaml:"concurrency"`
	// BytesPerSecond caps download throughput. 0 is unlimited.
	BytesPerSecond int64 `yaml:"bytes_per_second"`
	// MaxInflightBytes caps downloaded bytes held at once. 0 is unlimited.
	MaxInflightBytes int64 `yaml:"max_inflight_bytes"`
	// MaxRetries is the number of retries for a failed download. Default 3.
	MaxRetries uint64 `yaml:"max_retries"`
	// BaseBackoff is the first Fibonacci backoff step. Default 200ms.
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// DefaultConfig returns the default download settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MaxRetries:  3,
		BaseBackoff: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	return c
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeviceID sets the device scope to register into. Empty registers into
// the user-wide scope.
func WithDeviceID(id string) Option {
	return func(p *Pipeline) {
		p.deviceID = id
	}
}

// WithConfig sets download tuning.
func WithConfig(c Config) Option {
	return func(p *Pipeline) {
		p.cfg = c
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline syncs remote enrollment photos into a store.
type Pipeline struct {
	remote   blobstore.BlobStore
	store    Registrar
	embedder embedder.Embedder
	deviceID string
	cfg      Config
	logger   *slog.Logger
	rc       *resource.Controller
}

// New creates a Pipeline reading from remote.
func New(remote blobstore.BlobStore, store Registrar, emb embedder.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		remote:   remote,
		store:    store,
		embedder: emb,
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(p)
	}
	p.cfg = p.cfg.withDefaults()
	p.rc = resource.NewController(resource.Config{
		MemoryLimitBytes:     p.cfg.MaxInflightBytes,
		MaxConcurrentFetches: int64(p.cfg.Concurrency),
		IOLimitBytesPerSec:   p.cfg.BytesPerSecond,
	})
	return p
}

// DeviceID returns the target device id.
func (p *Pipeline) DeviceID() string { return p.deviceID }

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// listCats groups remote keys by cat uid. Keys not shaped
// cats/{user}/{cat}/{file} with an image extension are ignored.
func (p *Pipeline) listCats(ctx context.Context, userID string) (map[string][]string, error) {
	prefix := RemotePrefix + "/" + userID + "/"
	keys, err := p.remote.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrRemoteFetch, prefix, err)
	}

	cats := make(map[string][]string)
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		if !imageExts[strings.ToLower(path.Ext(parts[1]))] {
			continue
		}
		if err := enrollment.ValidateID("cat", parts[0]); err != nil {
			continue
		}
		cats[parts[0]] = append(cats[parts[0]], key)
	}
	for _, ks := range cats {
		sort.Strings(ks)
	}
	return cats, nil
}

// SyncFromRemote registers every cat found under cats/{userID}/. Per-image
// problems are recorded in the report. A failing Register marks the cat and
// the sync continues. Cancellation stops between cats; cats already
// registered stay registered.
func (p *Pipeline) SyncFromRemote(ctx context.Context, userID string) (Report, error) {
	report := Report{UserID: userID, DeviceID: p.deviceID, Cats: make(map[string]*CatReport)}

	scope := enrollment.Scope{UserID: userID, DeviceID: p.deviceID}
	if err := scope.Validate(); err != nil {
		return report, err
	}

	cats, err := p.listCats(ctx, userID)
	if err != nil {
		return report, err
	}
	if len(cats) == 0 {
		p.logger.Info("no cats found in remote storage", "user", userID)
		return report, nil
	}

	uids := make([]string, 0, len(cats))
	for uid := range cats {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	p.logger.Info("sync started", "user", userID, "device", p.deviceID, "cats", len(uids))
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		cr := p.syncCat(ctx, scope, uid, cats[uid])
		report.Cats[uid] = cr
		report.Order = append(report.Order, uid)
	}
	p.logger.Info("sync finished", "report", report.String())
	return report, nil
}

type download struct {
	key  string
	data []byte
	err  error
}

func (p *Pipeline) syncCat(ctx context.Context, scope enrollment.Scope, uid string, keys []string) *CatReport {
	cr := &CatReport{}
	log := p.logger.With("user", scope.UserID, "device", scope.DeviceID, "cat", uid)

	downloads := p.fetchAll(ctx, keys)

	dim := p.store.Dimension()
	var samples []enrollment.Sample
	for _, d := range downloads {
		if d.err != nil {
			log.Warn("download failed", "key", d.key, "error", d.err)
			cr.skip(d.key, "fetch", d.err)
			continue
		}
		img, err := embedder.Decode(d.data)
		if err != nil {
			log.Warn("undecodable image", "key", d.key, "error", err)
			cr.skip(d.key, "decode", err)
			continue
		}
		e, err := p.embedder.Embed(ctx, img)
		if err == nil {
			err = e.Validate(dim)
		}
		if err != nil {
			log.Warn("embedding failed", "key", d.key, "error", err)
			cr.skip(d.key, "embed", err)
			continue
		}
		if dim == 0 {
			dim = len(e)
		}
		samples = append(samples, enrollment.Sample{
			Embedding: e,
			Image:     d.data,
			ImageExt:  path.Ext(d.key),
		})
	}

	res, err := p.store.Register(ctx, scope, uid, "", samples)
	if err != nil {
		log.Error("register failed", "error", err)
		cr.Err = err
		return cr
	}
	cr.Processed = len(samples)
	cr.Duplicates = res.Duplicates
	log.Info("cat synced", "images", len(keys), "added", res.Added,
		"duplicates", res.Duplicates, "skipped", cr.Skipped)
	return cr
}

// fetchAll downloads keys concurrently. Results keep the order of keys.
func (p *Pipeline) fetchAll(ctx context.Context, keys []string) []download {
	out := make([]download, len(keys))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, key := range keys {
		out[i].key = key
		g.Go(func() error {
			out[i].data, out[i].err = p.fetch(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) fetch(ctx context.Context, key string) ([]byte, error) {
	if err := p.rc.AcquireFetch(ctx); err != nil {
		return nil, &RemoteFetchError{Key: key, Err: err}
	}
	defer p.rc.ReleaseFetch()

	b := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewFibonacci(p.cfg.BaseBackoff))
	data, err := retry.DoValue(ctx, b, func(ctx context.Context) ([]byte, error) {
		data, err := p.read(ctx, key)
		if err == nil || errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, resource.ErrMemoryLimitExceeded) || ctx.Err() != nil {
			return data, err
		}
		p.logger.Debug("download failed, will retry", "key", key, "error", err)
		return nil, retry.RetryableError(err)
	})
	if err != nil {
		return nil, &RemoteFetchError{Key: key, Err: err}
	}
	return data, nil
}

func (p *Pipeline) read(ctx context.Context, key string) ([]byte, error) {
	blob, err := p.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	size := blob.Size()
	_ = blob.Close()

	if err := p.rc.AcquireMemory(ctx, size); err != nil {
		return nil, err
	}
	defer p.rc.ReleaseMemory(size)
	if err := p.rc.AcquireIO(ctx, int(size)); err != nil {
		return nil, err
	}
	return blobstore.ReadAll(ctx, p.remote, key)
}
