package embedder

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/catid/embedding"
)

// DefaultTimeout bounds one Embed call on a Command.
const DefaultTimeout = 10 * time.Second

// ErrWorker is returned when the worker process fails or answers with an
// error.
var ErrWorker = errors.New("embedder worker failed")

// ErrClosed is returned by Embed after Close.
var ErrClosed = errors.New("embedder closed")

type request struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels string `json:"pixels"` // base64 packed RGB
}

type response struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// CommandOption configures a Command.
type CommandOption func(*Command)

// WithTimeout sets the per-call timeout. Default DefaultTimeout.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *Command) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEnv appends environment variables for the worker.
func WithEnv(env ...string) CommandOption {
	return func(c *Command) {
		c.env = append(c.env, env...)
	}
}

// WithCommandLogger sets the logger for worker lifecycle and stderr.
func WithCommandLogger(l *slog.Logger) CommandOption {
	return func(c *Command) {
		if l != nil {
			c.logger = l
		}
	}
}

// Command is an Embedder backed by a worker process. Each request is one
// JSON line on the worker's stdin, answered by one JSON line on stdout. Calls
// are serialized. A worker that times out or dies is killed and restarted on
// the next call.
type Command struct {
	argv    []string
	env     []string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	proc   *worker
	closed bool
}

type worker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan []byte
	done  chan struct{}
}

// NewCommand returns a Command running argv. The process starts on first
// use.
func NewCommand(argv []string, opts ...CommandOption) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("embedder: empty command")
	}
	c := &Command{
		argv:    append([]string(nil), argv...),
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Command) start() (*worker, error) {
	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	cmd.Env = append(os.Environ(), c.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrWorker, c.argv[0], err)
	}

	w := &worker{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan []byte),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case w.lines <- line:
			case <-time.After(c.timeout):
				// Nobody is waiting; the caller gave up.
			}
		}
	}()
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			c.logger.Debug("embedder stderr", "line", sc.Text())
		}
	}()

	c.logger.Info("embedder worker started", "command", c.argv[0], "pid", cmd.Process.Pid)
	return w, nil
}

func (w *worker) kill() {
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

// Embed implements Embedder.
func (c *Command) Embed(ctx context.Context, img image.Image) (embedding.Embedding, error) {
	b := img.Bounds()
	line, err := json.Marshal(request{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: base64.StdEncoding.EncodeToString(RGB(img)),
	})
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.proc == nil {
		if c.proc, err = c.start(); err != nil {
			return nil, err
		}
	}
	w := c.proc

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := w.stdin.Write(line); err != nil {
		c.reset()
		return nil, fmt.Errorf("%w: write request: %w", ErrWorker, err)
	}

	var out []byte
	select {
	case out = <-w.lines:
	case <-w.done:
		c.reset()
		return nil, fmt.Errorf("%w: worker exited", ErrWorker)
	case <-ctx.Done():
		c.reset()
		return nil, fmt.Errorf("%w: %w", ErrWorker, ctx.Err())
	}

	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		c.reset()
		return nil, fmt.Errorf("%w: bad response: %w", ErrWorker, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
	}
	e := embedding.Embedding(resp.Embedding)
	if err := e.Validate(0); err != nil {
		return nil, err
	}
	return e, nil
}

// reset kills the current worker. Callers hold c.mu.
func (c *Command) reset() {
	if c.proc == nil {
		return
	}
	c.logger.Warn("restarting embedder worker", "command", c.argv[0])
	c.proc.kill()
	c.proc = nil
}

// Close stops the worker.
func (c *Command) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.proc != nil {
		c.proc.kill()
		c.proc = nil
	}
	return nil
}
