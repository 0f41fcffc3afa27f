package catid

import (
	"log/slog"
	"time"

	"github.com/hupe1980/catid/codec"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/enrollsync"
	"github.com/hupe1980/catid/matcher"
)

type options struct {
	threshold        float64
	dimension        int
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	syncConfig       enrollsync.Config
	refreshInterval  time.Duration
}

// Option configures Open.
type Option func(*options)

// WithThreshold sets the minimum cosine similarity accepted as a match.
// Default matcher.DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(o *options) {
		o.threshold = t
	}
}

// WithDimension fixes the embedding length. 0 infers it from the first
// valid embedding stored. Default embedding.DefaultDimension.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithCodec configures the codec used for metadata documents.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &catid.BasicMetricsCollector{}
//	eng, _ := catid.Open(store, catid.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
//	fmt.Printf("Identify: %d, matched: %d\n", stats.IdentifyCount, stats.IdentifyMatched)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithSyncConfig tunes downloads of Sync.
func WithSyncConfig(c enrollsync.Config) Option {
	return func(o *options) {
		o.syncConfig = c
	}
}

// WithRefreshInterval makes reads pick up enrollments written by other
// processes once the cached view is older than d. 0 disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		o.refreshInterval = d
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		threshold:        matcher.DefaultThreshold,
		dimension:        embedding.DefaultDimension,
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		syncConfig:       enrollsync.DefaultConfig(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
