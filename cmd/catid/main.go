// Command catid registers cats and identifies them from photos.
//
// Usage:
//
//	catid register  --user U --cat-id C [--name N] IMAGE...
//	catid update    --user U --cat-id C [--name N] [--set-profile IMG] [--no-embed] IMAGE...
//	catid identify  --user U [--explain] IMAGE...
//	catid sync      --user U
//	catid export    --user U --out FILE [--compression zstd|lz4]
//	catid import    --user U --in FILE
//	catid device-id
//
// Commands act on this machine's device scope unless --device names another
// device or --user-wide selects the scope shared by all devices of the user.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/catid"
	"github.com/hupe1980/catid/bundle"
	"github.com/hupe1980/catid/deviceid"
	"github.com/hupe1980/catid/embedder"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/enrollment"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

// newEmbedder starts the embedding backend. Replaced in tests.
var newEmbedder = func(cfg catid.EmbedderConfig, logger *catid.Logger) (embedder.Embedder, io.Closer, error) {
	cmd, err := embedder.NewCommand(cfg.Command,
		embedder.WithTimeout(cfg.Timeout),
		embedder.WithCommandLogger(logger.Logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return cmd, cmd, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"register", "enroll photos of a cat", runRegister},
	{"update", "add photos, rename or set the profile of an enrolled cat", runUpdate},
	{"identify", "identify the cat in each photo", runIdentify},
	{"sync", "register all cats found in remote storage", runSync},
	{"export", "write a scope to a compressed bundle", runExport},
	{"import", "restore a scope from a bundle", runImport},
	{"device-id", "print this machine's device id", runDeviceID},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: catid <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	name, rest := args[0], args[1:]
	if name == "-h" || name == "--help" || name == "help" {
		usage(stdout)
		return exitOK
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		a := &app{stdout: stdout, stderr: stderr}
		fset := a.flags(name)
		if err := fset.Parse(rest); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return exitOK
			}
			return exitUsage
		}
		err := a.init(ctx, fset)
		if err == nil {
			err = c.run(ctx, a, fset.Args())
		}
		a.close()
		if err == nil {
			return exitOK
		}
		fmt.Fprintf(stderr, "catid %s: %v\n", name, err)
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitError
	}

	fmt.Fprintf(stderr, "catid: unknown command %q\n", name)
	usage(stderr)
	return exitUsage
}

// app holds the flags and the objects shared by all commands.
type app struct {
	stdout, stderr io.Writer

	configPath  string
	metricsAddr string
	threshold   float64
	userID      string
	deviceID    string
	userWide    bool
	catUID      string
	catName     string
	explain     bool
	profile     string
	noEmbed     bool
	in, out     string
	compression string

	cfg     catid.Config
	logger  *catid.Logger
	engine  *catid.Engine
	metrics *http.Server
	closers []io.Closer
}

func (a *app) flags(name string) *flag.FlagSet {
	fset := flag.NewFlagSet("catid "+name, flag.ContinueOnError)
	fset.SetOutput(a.stderr)
	fset.StringVar(&a.configPath, "config", os.Getenv("CATID_CONFIG"), "YAML config file")
	fset.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fset.Float64Var(&a.threshold, "threshold", 0, "match threshold, overrides the config")
	fset.StringVar(&a.userID, "user", "", "user id")
	fset.StringVar(&a.deviceID, "device", "", "device id (default: this machine)")
	fset.BoolVar(&a.userWide, "user-wide", false, "use the scope shared by all devices of the user")
	switch name {
	case "register":
		fset.StringVar(&a.catUID, "cat-id", "", "cat id")
		fset.StringVar(&a.catName, "name", "", "display name")
	case "update":
		fset.StringVar(&a.catUID, "cat-id", "", "cat id")
		fset.StringVar(&a.catName, "name", "", "new display name")
		fset.StringVar(&a.profile, "set-profile", "", "photo to use as profile picture")
		fset.BoolVar(&a.noEmbed, "no-embed", false, "store photos as training images only")
	case "identify":
		fset.BoolVar(&a.explain, "explain", false, "print the score of every enrolled cat")
	case "export":
		fset.StringVar(&a.out, "out", "", "bundle file to write")
		fset.StringVar(&a.compression, "compression", string(bundle.Zstd), "zstd or lz4")
	case "import":
		fset.StringVar(&a.in, "in", "", "bundle file to read")
	}
	return fset
}

func (a *app) init(ctx context.Context, fset *flag.FlagSet) error {
	cfg, err := catid.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	fset.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			cfg.Threshold = a.threshold
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logger()

	opts := cfg.Options()
	if a.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, catid.WithMetricsCollector(NewPrometheusCollector(reg)))
		a.serveMetrics(reg)
	}

	blobs, err := openBlobStore(ctx, cfg.Store, cfg.DataDir)
	if err != nil {
		return err
	}
	a.engine, err = catid.Open(blobs, opts...)
	return err
}

func (a *app) serveMetrics(g prometheus.Gatherer) {
	a.metrics = &http.Server{
		Addr:              a.metricsAddr,
		Handler:           metricsHandler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", a.metricsAddr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.metricsAddr)
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
}

func (a *app) openEmbedder() (embedder.Embedder, error) {
	if len(a.cfg.Embedder.Command) == 0 {
		return nil, fmt.Errorf("%w: embedder.command is not configured", catid.ErrInvalidConfig)
	}
	emb, closer, err := newEmbedder(a.cfg.Embedder, a.logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return emb, nil
}

func (a *app) requireUser() error {
	if a.userID == "" {
		return fmt.Errorf("%w: --user is required", errUsage)
	}
	return nil
}

// device resolves the device the command acts on. It is empty for the
// user-wide scope.
func (a *app) device() (string, error) {
	if a.userWide {
		if a.deviceID != "" {
			return "", fmt.Errorf("%w: --device and --user-wide are exclusive", errUsage)
		}
		return "", nil
	}
	if a.deviceID != "" {
		return a.deviceID, nil
	}
	id, err := deviceid.LoadOrCreate(nil, a.cfg.DeviceIDFile)
	if err != nil {
		a.logger.Warn("using unsaved device id", "device", id, "error", err)
	}
	return id, nil
}

func (a *app) scope() (enrollment.Scope, error) {
	if err := a.requireUser(); err != nil {
		return enrollment.Scope{}, err
	}
	device, err := a.device()
	if err != nil {
		return enrollment.Scope{}, err
	}
	return enrollment.Scope{UserID: a.userID, DeviceID: device}, nil
}

func runRegister(ctx context.Context, a *app, paths []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if a.catUID == "" {
		return fmt.Errorf("%w: --cat-id is required", errUsage)
	}
	samples, err := a.loadSamples(ctx, paths)
	if err != nil {
		return err
	}

	res, err := a.engine.Register(ctx, scope.UserID, scope.DeviceID, a.catUID, a.catName, samples)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: added %d, duplicates %d, skipped %d\n",
		a.catUID, res.Added, res.Duplicates, len(paths)-len(samples))
	return nil
}

// loadSamples embeds the photos at paths. Photos that cannot be read or
// embedded are logged and left out.
func (a *app) loadSamples(ctx context.Context, paths []string) ([]enrollment.Sample, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	emb, err := a.openEmbedder()
	if err != nil {
		return nil, err
	}
	var samples []enrollment.Sample
	for _, p := range paths {
		s, err := loadSample(ctx, emb, p)
		if err != nil {
			a.logger.Warn("skipping photo", "path", p, "error", err)
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func runUpdate(ctx context.Context, a *app, paths []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if a.catUID == "" {
		return fmt.Errorf("%w: --cat-id is required", errUsage)
	}
	if len(paths) == 0 && a.catName == "" && a.profile == "" {
		return fmt.Errorf("%w: nothing to update", errUsage)
	}
	if _, err := a.engine.Store().Cat(ctx, scope, a.catUID); err != nil {
		if errors.Is(err, enrollment.ErrNotFound) {
			return fmt.Errorf("cat %q is not registered in %s: %w", a.catUID, scope, catid.ErrNotFound)
		}
		return err
	}

	if a.noEmbed {
		added, skipped := 0, 0
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				a.logger.Warn("skipping photo", "path", p, "error", err)
				skipped++
				continue
			}
			n, err := a.engine.AddImages(ctx, scope.UserID, scope.DeviceID, a.catUID, [][]byte{data}, imageExt(p))
			if err != nil {
				return err
			}
			added += n
		}
		if a.catName != "" {
			if _, err := a.engine.Register(ctx, scope.UserID, scope.DeviceID, a.catUID, a.catName, nil); err != nil {
				return err
			}
		}
		fmt.Fprintf(a.stdout, "%s: images added %d, skipped %d\n", a.catUID, added, skipped)
	} else {
		samples, err := a.loadSamples(ctx, paths)
		if err != nil {
			return err
		}
		res, err := a.engine.Register(ctx, scope.UserID, scope.DeviceID, a.catUID, a.catName, samples)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s: added %d, duplicates %d, skipped %d\n",
			a.catUID, res.Added, res.Duplicates, len(paths)-len(samples))
	}

	if a.profile == "" {
		return nil
	}
	data, err := os.ReadFile(a.profile)
	if err != nil {
		return err
	}
	if _, err := embedder.Decode(data); err != nil {
		return fmt.Errorf("%s: %w", a.profile, err)
	}
	if err := a.engine.SetProfile(ctx, scope.UserID, scope.DeviceID, a.catUID, data, imageExt(a.profile)); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: profile set from %s\n", a.catUID, a.profile)
	return nil
}

func imageExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func loadSample(ctx context.Context, emb embedder.Embedder, path string) (enrollment.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return enrollment.Sample{}, err
	}
	vec, err := embedder.EmbedBytes(ctx, emb, data)
	if err != nil {
		return enrollment.Sample{}, err
	}
	return enrollment.Sample{
		Embedding: vec,
		Image:     data,
		ImageExt:  imageExt(path),
	}, nil
}

func runIdentify(ctx context.Context, a *app, paths []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: no photo given", errUsage)
	}
	emb, err := a.openEmbedder()
	if err != nil {
		return err
	}

	failed := 0
	for _, p := range paths {
		vec, err := embedFile(ctx, emb, p)
		if err != nil {
			a.logger.Warn("skipping photo", "path", p, "error", err)
			fmt.Fprintf(a.stdout, "%s\terror\t%v\n", p, err)
			failed++
			continue
		}
		res, err := a.engine.Identify(ctx, scope.UserID, scope.DeviceID, vec)
		if err != nil {
			return err
		}
		label := "unknown"
		if res.Matched {
			label = res.CatUID
		}
		fmt.Fprintf(a.stdout, "%s\t%s\t%.3f\n", p, label, res.Score)

		if !a.explain {
			continue
		}
		scores, err := a.engine.Explain(ctx, scope.UserID, scope.DeviceID, vec)
		if errors.Is(err, catid.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for _, s := range scores {
			fmt.Fprintf(a.stdout, "  %-20s max %.3f  mean %.3f  refs %d\n", s.CatUID, s.Max, s.Mean, s.Refs)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d photos could not be identified", failed, len(paths))
	}
	return nil
}

func embedFile(ctx context.Context, emb embedder.Embedder, path string) (embedding.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return embedder.EmbedBytes(ctx, emb, data)
}

func runSync(ctx context.Context, a *app, _ []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if a.cfg.Remote.Kind == "" {
		return fmt.Errorf("%w: remote.kind is not configured", catid.ErrInvalidConfig)
	}
	remote, err := openBlobStore(ctx, a.cfg.Remote, "")
	if err != nil {
		return err
	}
	emb, err := a.openEmbedder()
	if err != nil {
		return err
	}

	report, err := a.engine.Sync(ctx, remote, scope.UserID, scope.DeviceID, emb)
	fmt.Fprintln(a.stdout, report.String())
	return err
}

func runExport(ctx context.Context, a *app, _ []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if a.out == "" {
		return fmt.Errorf("%w: --out is required", errUsage)
	}
	c, err := bundle.ParseCompression(a.compression)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	f, err := os.Create(a.out)
	if err != nil {
		return err
	}
	stats, err := bundle.Export(ctx, a.engine.Store().Blobs(), scope, f, c)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(a.out)
		return err
	}
	fmt.Fprintf(a.stdout, "exported %d files (%d bytes) to %s\n", stats.Entries, stats.Bytes, a.out)
	return nil
}

func runImport(ctx context.Context, a *app, _ []string) error {
	scope, err := a.scope()
	if err != nil {
		return err
	}
	if a.in == "" {
		return fmt.Errorf("%w: --in is required", errUsage)
	}
	f, err := os.Open(a.in)
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := bundle.Import(ctx, a.engine.Store(), scope, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "imported %d files (%d bytes)\n", stats.Entries, stats.Bytes)
	return nil
}

func runDeviceID(_ context.Context, a *app, _ []string) error {
	id, err := a.device()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, id)
	return nil
}
