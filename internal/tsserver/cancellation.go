package tsserver

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Canceller asks the server to abandon an in-flight request out of band.
type Canceller interface {
	// Cancel requests abandonment of seq. Reports whether the signal was
	// delivered. At most one Cancel per seq can succeed.
	Cancel(seq int64) bool

	// Done clears cancellation state for seq once its response arrived.
	// Idempotent.
	Done(seq int64)

	// Base returns the pipe name prefix handed to the server, or "" when
	// out-of-band cancellation is unavailable.
	Base() string

	// Close removes leftover cancellation files.
	Close() error
}

// PipeCanceller signals through the server's cancellation pipe: creating
// the file <base><seq> makes the server notice a pending cancellation for
// that seq at its next checkpoint. The server learns the base from
// --cancellationPipeName <base>*.
type PipeCanceller struct {
	base   string
	logger *slog.Logger

	mu    sync.Mutex
	seen  map[int64]bool
	files map[int64]string
}

// NewPipeCanceller picks a fresh temp-file base for one session.
func NewPipeCanceller(logger *slog.Logger) *PipeCanceller {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeCanceller{
		base:   filepath.Join(os.TempDir(), "tsbridge-cancel-"+uuid.NewString()+"-"),
		logger: logger,
		seen:   make(map[int64]bool),
		files:  make(map[int64]string),
	}
}

// Cancel implements Canceller. Creation failures are logged, not fatal;
// the request then simply runs to completion.
func (c *PipeCanceller) Cancel(seq int64) bool {
	c.mu.Lock()
	if c.seen[seq] {
		c.mu.Unlock()
		return false
	}
	c.seen[seq] = true
	c.mu.Unlock()

	path := c.base + strconv.FormatInt(seq, 10)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		c.logger.Debug("cancellation file create failed", "seq", seq, "error", err)
		return false
	}
	f.Close()

	c.mu.Lock()
	c.files[seq] = path
	c.mu.Unlock()
	return true
}

// Done implements Canceller.
func (c *PipeCanceller) Done(seq int64) {
	c.mu.Lock()
	path, ok := c.files[seq]
	delete(c.files, seq)
	c.mu.Unlock()
	if ok {
		os.Remove(path)
	}
}

// Base implements Canceller.
func (c *PipeCanceller) Base() string {
	return c.base
}

// Close implements Canceller.
func (c *PipeCanceller) Close() error {
	c.mu.Lock()
	files := c.files
	c.files = make(map[int64]string)
	c.mu.Unlock()

	var firstErr error
	for _, path := range files {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// noopCanceller is used when no out-of-band path to the server exists
// (socket attach). Queue-level deletion still works; in-flight requests
// run to completion.
type noopCanceller struct{}

func (noopCanceller) Cancel(int64) bool { return false }
func (noopCanceller) Done(int64)        {}
func (noopCanceller) Base() string      { return "" }
func (noopCanceller) Close() error      { return nil }
