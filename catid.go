package catid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/catid/binder"
	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/embedder"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/enrollment"
	"github.com/hupe1980/catid/enrollsync"
	"github.com/hupe1980/catid/matcher"
	"github.com/hupe1980/catid/tracking"
)

// Engine is the identity resolution engine. It is safe for concurrent use.
type Engine struct {
	store   *enrollment.Store
	matcher *matcher.Matcher
	logger  *Logger
	metrics MetricsCollector
	syncCfg enrollsync.Config
}

// Open creates an Engine persisting enrollments to blobs.
func Open(blobs blobstore.BlobStore, optFns ...Option) (*Engine, error) {
	if blobs == nil {
		return nil, fmt.Errorf("%w: nil blob store", ErrInvalidConfig)
	}
	o := applyOptions(optFns)

	m, err := matcher.New(o.threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if o.dimension < 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidConfig, o.dimension)
	}

	store := enrollment.NewStore(blobs,
		enrollment.WithCodec(o.codec),
		enrollment.WithLogger(o.logger.Logger),
		enrollment.WithDimension(o.dimension),
		enrollment.WithRefreshInterval(o.refreshInterval),
	)
	return &Engine{
		store:   store,
		matcher: m,
		logger:  o.logger,
		metrics: o.metricsCollector,
		syncCfg: o.syncConfig,
	}, nil
}

// Store returns the enrollment store.
func (e *Engine) Store() *enrollment.Store { return e.store }

// Threshold returns the match threshold.
func (e *Engine) Threshold() float64 { return e.matcher.Threshold() }

// Register enrolls samples for a cat. An empty deviceID targets the
// user-wide scope.
func (e *Engine) Register(ctx context.Context, userID, deviceID, catUID, name string, samples []enrollment.Sample) (enrollment.RegisterResult, error) {
	start := time.Now()
	res, err := e.store.Register(ctx, enrollment.Scope{UserID: userID, DeviceID: deviceID}, catUID, name, samples)
	e.metrics.RecordRegister(res.Added, res.Duplicates, time.Since(start), err)
	e.logger.LogRegister(ctx, userID, deviceID, catUID, res.Added, res.Duplicates, err)
	return res, translateError(err)
}

// AddImages stores training images for an existing cat without computing
// embeddings. It returns the number of new images.
func (e *Engine) AddImages(ctx context.Context, userID, deviceID, catUID string, images [][]byte, ext string) (int, error) {
	n, err := e.store.AddImages(ctx, enrollment.Scope{UserID: userID, DeviceID: deviceID}, catUID, images, ext)
	if err != nil {
		e.logger.Error("add images failed", "user", userID, "device", deviceID, "cat", catUID, "error", err)
	}
	return n, translateError(err)
}

// SetProfile sets the profile picture of an existing cat.
func (e *Engine) SetProfile(ctx context.Context, userID, deviceID, catUID string, image []byte, ext string) error {
	err := e.store.SetProfile(ctx, enrollment.Scope{UserID: userID, DeviceID: deviceID}, catUID, image, ext)
	if err != nil {
		e.logger.Error("set profile failed", "user", userID, "device", deviceID, "cat", catUID, "error", err)
	}
	return translateError(err)
}

// LookupBank returns the bank used to identify cats seen by a device.
func (e *Engine) LookupBank(ctx context.Context, userID, deviceID string) (matcher.Bank, error) {
	bank, err := e.store.LookupBank(ctx, userID, deviceID)
	e.logger.LogLookup(ctx, userID, deviceID, len(bank), err)
	return bank, translateError(err)
}

// Identify matches query against the device's bank. A user without
// enrolled cats yields an unmatched result, not an error.
func (e *Engine) Identify(ctx context.Context, userID, deviceID string, query embedding.Embedding) (matcher.Result, error) {
	start := time.Now()
	res, err := e.identify(ctx, userID, deviceID, query)
	e.metrics.RecordIdentify(res.Matched, time.Since(start), err)
	e.logger.LogIdentify(ctx, userID, deviceID, res.CatUID, res.Score, err)
	return res, translateError(err)
}

func (e *Engine) identify(ctx context.Context, userID, deviceID string, query embedding.Embedding) (matcher.Result, error) {
	bank, err := e.store.LookupBank(ctx, userID, deviceID)
	if errors.Is(err, enrollment.ErrNotFound) {
		return matcher.Result{}, nil
	}
	if err != nil {
		return matcher.Result{}, err
	}
	return e.matcher.Identify(query, bank)
}

// Explain scores query against every cat of the device's bank.
func (e *Engine) Explain(ctx context.Context, userID, deviceID string, query embedding.Embedding) ([]matcher.CatScore, error) {
	bank, err := e.store.LookupBank(ctx, userID, deviceID)
	if err != nil {
		return nil, translateError(err)
	}
	scores, err := e.matcher.Explain(query, bank)
	return scores, translateError(err)
}

// BankSource returns a binder.BankSource reading the device's bank. A
// missing enrollment is an empty bank.
func (e *Engine) BankSource(userID, deviceID string) binder.BankSource {
	return binder.BankFunc(func(ctx context.Context) (matcher.Bank, error) {
		bank, err := e.store.LookupBank(ctx, userID, deviceID)
		if errors.Is(err, enrollment.ErrNotFound) {
			return nil, nil
		}
		return bank, err
	})
}

// NewProcessor returns a frame processor for one camera stream of a device.
func (e *Engine) NewProcessor(userID, deviceID string, emb embedder.Embedder) *tracking.Processor {
	b := binder.New(e.matcher, e.BankSource(userID, deviceID),
		binder.WithLogger(e.logger.With("user", userID, "device", deviceID)),
		binder.WithResolveHook(e.metrics.RecordResolve),
	)
	return tracking.NewProcessor(b, emb)
}

// Sync pulls enrollment photos of userID from remote into the device scope.
func (e *Engine) Sync(ctx context.Context, remote blobstore.BlobStore, userID, deviceID string, emb embedder.Embedder) (enrollsync.Report, error) {
	start := time.Now()
	p := enrollsync.New(remote, e.store, emb,
		enrollsync.WithDeviceID(deviceID),
		enrollsync.WithConfig(e.syncCfg),
		enrollsync.WithLogger(e.logger.Logger),
	)
	report, err := p.SyncFromRemote(ctx, userID)

	t := report.Totals()
	e.metrics.RecordSync(t.Processed, t.Skipped, t.Failed, time.Since(start))
	e.logger.LogSync(ctx, userID, deviceID, t.Processed, t.Skipped, t.Failed, err)
	return report, translateError(err)
}
