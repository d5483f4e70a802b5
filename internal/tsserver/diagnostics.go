package tsserver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DiagnosticsScheduler coalesces diagnostics pulls. Edits arrive faster
// than the server can check files, so scheduled files are debounced into
// one geterr request, and an in-flight pull is cancelled and folded into
// the next one rather than run to completion against stale text.
type DiagnosticsScheduler struct {
	client *Client
	opts   DiagnosticsOptions
	logger *slog.Logger

	mu         sync.Mutex
	pending    []string
	pendingSet map[string]struct{}
	timer      *time.Timer
	inFlight   *getErrRequest
	closed     bool
}

// getErrRequest is one in-flight diagnostics pull.
type getErrRequest struct {
	files  []string
	cancel context.CancelFunc
	// folded means a flush already took these files; the run goroutine
	// must not reschedule them on cancellation.
	folded bool
}

// NewDiagnosticsScheduler creates a scheduler driving client with the
// client's configured diagnostics options.
func NewDiagnosticsScheduler(client *Client) *DiagnosticsScheduler {
	return &DiagnosticsScheduler{
		client:     client,
		opts:       client.cfg.diagnostics(),
		logger:     client.logger,
		pendingSet: make(map[string]struct{}),
	}
}

// File schedules a diagnostics pull for path. Repeated calls within the
// debounce window coalesce into one request.
func (s *DiagnosticsScheduler) File(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.pendingSet[path]; !ok {
		s.pendingSet[path] = struct{}{}
		s.pending = append(s.pending, path)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Delay, s.flush)
}

// Interrupt cancels any in-flight pull covering file so a fence request
// is not stuck behind it. The cancelled pull's files return to the
// pending set and are re-pulled after the next debounce.
func (s *DiagnosticsScheduler) Interrupt(file string) {
	if n := s.client.InterruptFor(file); n > 0 {
		s.logger.Debug("diagnostics pull interrupted", "file", file, "cancelled", n)
	}
}

// Close stops the scheduler and cancels any in-flight pull.
func (s *DiagnosticsScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	prev := s.inFlight
	s.pending = nil
	s.pendingSet = make(map[string]struct{})
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// flush fires when the debounce window closes.
func (s *DiagnosticsScheduler) flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	files := s.pending
	s.pending = nil
	s.pendingSet = make(map[string]struct{})
	s.timer = nil

	if prev := s.inFlight; prev != nil {
		// Fold the interrupted pull into this one.
		prev.folded = true
		prev.cancel()
		files = mergeFiles(files, prev.files)
	}
	if len(files) == 0 {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := &getErrRequest{files: files, cancel: cancel}
	s.inFlight = req
	s.mu.Unlock()

	go s.run(ctx, req)
}

func (s *DiagnosticsScheduler) run(ctx context.Context, req *getErrRequest) {
	defer req.cancel()

	opts := make([]ExecOption, 0, len(req.files))
	for _, f := range req.files {
		opts = append(opts, CancelOnResourceChange(f))
	}
	args := geterrArgs{Delay: s.opts.ServerDelay.Milliseconds(), Files: req.files}
	res, err := s.client.ExecuteAsync(ctx, CommandGeterr, args, opts...)
	if err != nil {
		s.logger.Debug("diagnostics pull failed", "files", len(req.files), "error", err)
		res = ExecResult{Outcome: OutcomeNoServer}
	}

	s.mu.Lock()
	if s.inFlight == req {
		s.inFlight = nil
	}
	reschedule := res.Outcome == OutcomeCancelled && !req.folded && !s.closed
	if reschedule {
		for _, f := range req.files {
			if _, ok := s.pendingSet[f]; !ok {
				s.pendingSet[f] = struct{}{}
				s.pending = append(s.pending, f)
			}
		}
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(s.opts.Delay, s.flush)
	}
	s.mu.Unlock()
}

// mergeFiles appends extras not already in primary, keeping order.
func mergeFiles(primary, extra []string) []string {
	seen := make(map[string]struct{}, len(primary))
	for _, f := range primary {
		seen[f] = struct{}{}
	}
	for _, f := range extra {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			primary = append(primary, f)
		}
	}
	return primary
}
