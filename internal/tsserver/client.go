package tsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"

	"github.com/dshills/tsbridge/internal/event"
)

// State is the session lifecycle.
type State int32

const (
	// StateNone means no server instance exists.
	StateNone State = iota
	// StateStarting means a spawn is in progress.
	StateStarting
	// StateRunning means the server is serving requests.
	StateRunning
	// StateStopping means an orderly shutdown is in progress.
	StateStopping
	// StateErrored means the server died repeatedly and gave up.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// stopGracePeriod is how long Stop waits for the server to honor the
// exit request before killing it.
const stopGracePeriod = 3 * time.Second

// Client supervises tsserver instances and runs the request pipeline.
// It survives server restarts: request seqs stay monotonic across
// instances and open documents are replayed into each new one.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg    Config
	bus    *event.Bus
	logger *slog.Logger

	seq   atomic.Int64
	state atomic.Int32

	mu         sync.Mutex
	svc        *service
	version    APIVersion
	generation int
	ctx        context.Context
	cancel     context.CancelFunc

	// Crash-loop bookkeeping. Instance fields: two clients never share
	// restart history.
	numRestarts int
	lastStart   time.Time
	now         func() time.Time

	// startTransport overrides the transport factory in tests.
	startTransport func(ctx context.Context, version APIVersion) (Transport, Canceller, error)

	docMu sync.Mutex
	docs  map[string]*openDoc

	resMu     sync.Mutex
	resources map[string]map[int64]struct{}

	wg sync.WaitGroup
}

// openDoc is the replay record for one open document.
type openDoc struct {
	content     string
	projectRoot string
	version     int
}

// NewClient creates a client for cfg. Events are published on bus,
// which may be nil.
func NewClient(cfg Config, bus *event.Bus) *Client {
	return &Client{
		cfg:       cfg,
		bus:       bus,
		logger:    cfg.logger(),
		now:       time.Now,
		docs:      make(map[string]*openDoc),
		resources: make(map[string]map[int64]struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Version returns the server version discovered at the last start.
func (c *Client) Version() APIVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Start spawns a server instance. Starting an already running client is
// a no-op. ctx bounds the whole session: cancelling it tears the server
// down.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateRunning, StateStarting:
		return nil
	case StateStopping:
		return ErrShutdown
	case StateErrored:
		// A manual start clears crash history.
		c.numRestarts = 0
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.startServiceLocked(false); err != nil {
		c.cancel()
		c.state.Store(int32(StateNone))
		return err
	}
	return nil
}

// startServiceLocked spawns one instance and wires its service. The
// caller holds c.mu.
func (c *Client) startServiceLocked(restarted bool) error {
	c.state.Store(int32(StateStarting))

	version := VersionUnknown
	if c.cfg.TSServerPath != "" {
		v, err := LookupVersion(c.cfg.TSServerPath)
		if err != nil {
			c.logger.Debug("tsserver version unknown", "path", c.cfg.TSServerPath, "error", err)
		}
		version = v
	}
	c.version = version

	start := c.startTransport
	if start == nil {
		start = c.defaultStartTransport
	}
	tr, canceller, err := start(c.ctx, version)
	if err != nil {
		return fmt.Errorf("start tsserver: %w", err)
	}

	svc := newService(tr, canceller, c.bus, c.logger)
	svc.run(c.ctx)
	c.svc = svc
	c.generation++
	gen := c.generation
	c.lastStart = c.now()
	c.state.Store(int32(StateRunning))

	c.wg.Add(1)
	go c.monitor(svc, gen)

	c.configureLocked(svc)
	if restarted {
		c.replayDocumentsLocked(svc)
	}

	pid := 0
	if ct, ok := tr.(*ChildTransport); ok {
		pid = ct.PID()
	}
	c.publish(ServerStartedEvent{Version: version, PID: pid, Restarted: restarted})
	c.logger.Info("tsserver started",
		"version", version.String(), "transport", c.cfg.Transport.String(), "pid", pid, "restarted", restarted)
	return nil
}

// defaultStartTransport builds the transport the configuration asks for.
func (c *Client) defaultStartTransport(ctx context.Context, version APIVersion) (Transport, Canceller, error) {
	switch c.cfg.Transport {
	case TransportSocket:
		tr, err := DialSocketTransport(ctx, c.cfg.SocketAddr, c.cfg.SocketFraming, c.logger)
		if err != nil {
			return nil, nil, err
		}
		// No process to signal through the filesystem; late responses
		// are still discarded on cancel.
		return tr, noopCanceller{}, nil

	case TransportProc, TransportIPC:
		canceller := NewPipeCanceller(c.logger)
		sp, err := BuildSpawn(c.cfg, version, canceller.Base())
		if err != nil {
			canceller.Close()
			return nil, nil, err
		}
		var tr Transport
		if c.cfg.Transport == TransportIPC {
			tr, err = StartIPCTransport(ctx, sp, c.logger)
		} else {
			tr, err = StartProcTransport(ctx, sp, c.logger)
		}
		if err != nil {
			canceller.Close()
			return nil, nil, err
		}
		return tr, canceller, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport kind %d", c.cfg.Transport)
	}
}

// configureLocked sends the initial configure and compiler options
// requests. Neither expects a response.
func (c *Client) configureLocked(svc *service) {
	args := c.buildConfigureArgs()
	if _, err := svc.enqueue(c.newRequest(CommandConfigure, args), PriorityNormal, false, false, false); err != nil {
		c.logger.Warn("configure not sent", "error", err)
	}

	if len(c.cfg.CompilerOptionsForInferredProjects) == 0 {
		return
	}
	raw, err := json.Marshal(map[string]any{"options": c.cfg.CompilerOptionsForInferredProjects})
	if err != nil {
		c.logger.Warn("compiler options not sent", "error", err)
		return
	}
	if _, err := svc.enqueue(c.newRequest(CommandCompilerOptions, raw), PriorityNormal, false, false, false); err != nil {
		c.logger.Warn("compiler options not sent", "error", err)
	}
}

// buildConfigureArgs renders the configure payload and applies the
// user's dotted-path overrides on top.
func (c *Client) buildConfigureArgs() json.RawMessage {
	host := c.cfg.HostInfo
	if host == "" {
		host = "tsbridge"
	}
	base := map[string]any{
		"hostInfo": host,
		"preferences": map[string]any{
			"providePrefixAndSuffixTextForRename": true,
			"allowRenameOfImportPath":             true,
		},
	}
	data, err := json.Marshal(base)
	if err != nil {
		return nil
	}
	for path, value := range c.cfg.ConfigureOverrides {
		patched, err := sjson.SetBytes(data, path, value)
		if err != nil {
			c.logger.Warn("configure override dropped", "path", path, "error", err)
			continue
		}
		data = patched
	}
	return data
}

// replayDocumentsLocked reopens every tracked document on a fresh
// instance. The caller holds c.mu.
func (c *Client) replayDocumentsLocked(svc *service) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	for path, doc := range c.docs {
		raw, err := json.Marshal(openArgs{
			File:            path,
			FileContent:     doc.content,
			ProjectRootPath: doc.projectRoot,
			ScriptKindName:  scriptKindName(path),
		})
		if err != nil {
			continue
		}
		if _, err := svc.enqueue(c.newRequest(CommandOpen, raw), PriorityFence, false, false, false); err != nil {
			c.logger.Warn("document not reopened", "file", path, "error", err)
		}
	}
	if n := len(c.docs); n > 0 {
		c.logger.Info("reopened documents", "count", n)
	}
}

// monitor waits for one instance to die and hands off to the crash
// policy.
func (c *Client) monitor(svc *service, gen int) {
	defer c.wg.Done()
	status, cause := svc.wait()
	c.serviceExited(svc, gen, status, cause)
}

// serviceExited cleans up after a dead instance and decides whether to
// restart it.
func (c *Client) serviceExited(svc *service, gen int, status ExitStatus, cause error) {
	c.mu.Lock()
	if c.svc != svc || gen != c.generation {
		// A stale monitor for an instance already replaced.
		c.mu.Unlock()
		svc.shutdown("service died")
		return
	}
	c.svc = nil
	stopping := c.State() == StateStopping || c.ctx.Err() != nil
	c.mu.Unlock()

	if stopping {
		svc.shutdown("client stopped")
		return
	}
	svc.shutdown("service died")

	c.logger.Warn("tsserver exited unexpectedly", "status", status.String(), "cause", cause)

	c.mu.Lock()
	defer c.mu.Unlock()

	policy := c.cfg.restart()
	restart := true
	fatal := false
	c.numRestarts++
	if c.numRestarts > policy.MaxRestarts {
		c.numRestarts = 0
		diff := c.now().Sub(c.lastStart)
		switch {
		case diff < policy.ShortWindow:
			restart = false
			fatal = true
			c.logger.Error("tsserver keeps dying right after starting, giving up",
				"window", policy.ShortWindow)
		case diff < policy.LongWindow:
			c.logger.Warn("tsserver is crashing frequently", "window", policy.LongWindow)
		}
	}

	c.publish(ServerStoppedEvent{Status: status, Fatal: fatal})
	if !restart {
		c.state.Store(int32(StateErrored))
		return
	}
	if err := c.startServiceLocked(true); err != nil {
		c.logger.Error("tsserver restart failed", "error", err)
		c.state.Store(int32(StateErrored))
		c.publish(ServerStoppedEvent{Status: status, Fatal: true})
	}
}

// Stop shuts the server down: an exit request first, then a kill if it
// does not comply within the grace period or before ctx ends.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	st := c.State()
	if st != StateRunning && st != StateStarting {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.state.Store(int32(StateStopping))
	svc := c.svc
	c.mu.Unlock()

	if svc != nil {
		if _, err := svc.enqueue(c.newRequest(CommandExit, nil), PriorityNormal, false, false, false); err == nil {
			select {
			case <-svc.exited:
			case <-time.After(stopGracePeriod):
			case <-ctx.Done():
			}
		}
		svc.stop()
		svc.tr.Kill()
	}

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.state.Store(int32(StateNone))
	c.logger.Info("tsserver stopped")
	return nil
}

// Restart replaces the current instance with a fresh one and clears
// crash history.
func (c *Client) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && err != ErrNotStarted {
		return err
	}
	c.mu.Lock()
	c.numRestarts = 0
	c.mu.Unlock()
	return c.Start(ctx)
}

// Reconfigure replaces the configure overrides and re-sends the
// configure request to the running server, if any. Future instances get
// the new overrides too.
func (c *Client) Reconfigure(overrides map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ConfigureOverrides = overrides
	if c.svc != nil {
		c.configureLocked(c.svc)
	}
}

// ExecOption adjusts how one request is executed.
type ExecOption func(*execOptions)

type execOptions struct {
	priority       Priority
	prioritySet    bool
	nonRecoverable bool
	resources      []string
}

// WithPriority overrides the priority derived from the command.
func WithPriority(p Priority) ExecOption {
	return func(o *execOptions) {
		o.priority = p
		o.prioritySet = true
	}
}

// NonRecoverable marks a request whose failure means the server is
// wedged: a failed response kills the instance so the crash policy can
// replace it.
func NonRecoverable() ExecOption {
	return func(o *execOptions) { o.nonRecoverable = true }
}

// CancelOnResourceChange ties the request to a resource so InterruptFor
// can cancel it when that resource changes. May be given more than once.
func CancelOnResourceChange(resource string) ExecOption {
	return func(o *execOptions) { o.resources = append(o.resources, resource) }
}

// Execute sends a request and waits for its response. The returned
// ExecResult always states an outcome; err is non-nil for failed
// responses and argument problems. Cancelling ctx cancels the request.
func (c *Client) Execute(ctx context.Context, command string, args any, opts ...ExecOption) (ExecResult, error) {
	return c.execute(ctx, command, args, false, opts)
}

// ExecuteAsync sends a request the server answers with a
// requestCompleted event instead of a response. It waits for the event.
func (c *Client) ExecuteAsync(ctx context.Context, command string, args any, opts ...ExecOption) (ExecResult, error) {
	return c.execute(ctx, command, args, true, opts)
}

// ExecuteWithoutWaitingForResponse sends a request the server never
// answers. It returns once the request is queued.
func (c *Client) ExecuteWithoutWaitingForResponse(command string, args any) error {
	raw, err := marshalArgs(args)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc == nil {
		return ErrNotStarted
	}
	_, err = c.svc.enqueue(c.newRequest(command, raw), defaultPriority(command), false, false, false)
	return err
}

// Pending is a queued request whose result has not been collected yet.
// Wait must be called exactly once.
type Pending struct {
	c       *Client
	command string
	seq     int64
	cb      *callback
	done    ExecResult
	tracked []string
}

// Seq returns the request's wire seq, or 0 when no server was running.
func (p *Pending) Seq() int64 { return p.seq }

// Wait blocks until the request resolves. Cancelling ctx cancels the
// request; Wait still returns its final disposition.
func (p *Pending) Wait(ctx context.Context) (ExecResult, error) {
	if p.cb == nil {
		return p.done, nil
	}
	defer func() {
		for _, res := range p.tracked {
			p.c.untrackResource(res, p.seq)
		}
	}()

	select {
	case res := <-p.cb.ch:
		return finishResult(p.command, p.seq, res)
	case <-ctx.Done():
		p.c.CancelRequest(p.seq)
		// Whoever won the race resolved the callback; collect it.
		res := <-p.cb.ch
		return finishResult(p.command, p.seq, res)
	}
}

// BeginExecute queues a request and returns without waiting, so callers
// pipelining requests keep their submission order. The error covers
// argument marshalling only; an absent server surfaces as the pending
// result.
func (c *Client) BeginExecute(command string, args any, opts ...ExecOption) (*Pending, error) {
	return c.begin(command, args, false, opts)
}

// BeginExecuteAsync is BeginExecute for commands the server answers with
// a requestCompleted event.
func (c *Client) BeginExecuteAsync(command string, args any, opts ...ExecOption) (*Pending, error) {
	return c.begin(command, args, true, opts)
}

func (c *Client) begin(command string, args any, async bool, opts []ExecOption) (*Pending, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	o := execOptions{priority: defaultPriority(command)}
	for _, opt := range opts {
		opt(&o)
	}
	if async && !o.prioritySet {
		o.priority = PriorityLow
	}

	c.mu.Lock()
	svc := c.svc
	if svc == nil {
		c.mu.Unlock()
		return &Pending{command: command, done: noServerResult("no server running")}, nil
	}
	req := c.newRequest(command, raw)
	cb, err := svc.enqueue(req, o.priority, true, async, o.nonRecoverable)
	c.mu.Unlock()
	if err != nil {
		// The instance died between the state check and the enqueue.
		return &Pending{command: command, done: noServerResult("no server running")}, nil
	}

	for _, res := range o.resources {
		c.trackResource(res, req.Seq)
	}
	return &Pending{c: c, command: command, seq: req.Seq, cb: cb, tracked: o.resources}, nil
}

func (c *Client) execute(ctx context.Context, command string, args any, async bool, opts []ExecOption) (ExecResult, error) {
	p, err := c.begin(command, args, async, opts)
	if err != nil {
		return ExecResult{}, err
	}
	return p.Wait(ctx)
}

// finishResult maps a failed response onto an error the caller can
// inspect.
func finishResult(command string, seq int64, res ExecResult) (ExecResult, error) {
	if res.Outcome == OutcomeResponse && !res.Response.Success {
		return res, &ResponseError{Command: command, Seq: seq, Message: res.Response.Message}
	}
	return res, nil
}

// CancelRequest cancels the request with seq. Unsent requests leave the
// queue; in-flight ones get the out-of-band cancellation signal. The
// waiting caller resolves cancelled either way, and a late response is
// discarded. It reports whether anything was cancelled.
func (c *Client) CancelRequest(seq int64) bool {
	c.mu.Lock()
	svc := c.svc
	c.mu.Unlock()
	if svc == nil {
		return false
	}
	return svc.cancelRequest(seq, "cancelled")
}

// InterruptFor cancels every pending request tied to resource via
// CancelOnResourceChange. It returns the number cancelled.
func (c *Client) InterruptFor(resource string) int {
	c.resMu.Lock()
	seqs := make([]int64, 0, len(c.resources[resource]))
	for seq := range c.resources[resource] {
		seqs = append(seqs, seq)
	}
	c.resMu.Unlock()

	n := 0
	for _, seq := range seqs {
		if c.CancelRequest(seq) {
			n++
		}
	}
	return n
}

func (c *Client) trackResource(resource string, seq int64) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	set := c.resources[resource]
	if set == nil {
		set = make(map[int64]struct{})
		c.resources[resource] = set
	}
	set[seq] = struct{}{}
}

func (c *Client) untrackResource(resource string, seq int64) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	set := c.resources[resource]
	delete(set, seq)
	if len(set) == 0 {
		delete(c.resources, resource)
	}
}

// OpenFile tells the server about a document and records it for replay
// after a restart. content is the full document text.
func (c *Client) OpenFile(path, content, projectRoot string) error {
	c.docMu.Lock()
	if _, exists := c.docs[path]; exists {
		c.docMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentAlreadyOpen, path)
	}
	c.docs[path] = &openDoc{content: content, projectRoot: projectRoot, version: 1}
	c.docMu.Unlock()

	return c.ExecuteWithoutWaitingForResponse(CommandOpen, openArgs{
		File:            path,
		FileContent:     content,
		ProjectRootPath: projectRoot,
		ScriptKindName:  scriptKindName(path),
	})
}

// TextChange replaces the document range [Start, End) with NewText.
type TextChange struct {
	Start   Location
	End     Location
	NewText string
}

// ChangeFile updates an open document. content is the full post-change
// text, kept for replay; changes are the incremental edits sent on the
// wire. With no changes the whole document is replaced.
func (c *Client) ChangeFile(path, content string, changes ...TextChange) error {
	c.docMu.Lock()
	doc, ok := c.docs[path]
	if !ok {
		c.docMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, path)
	}
	old := doc.content
	doc.content = content
	doc.version++
	c.docMu.Unlock()

	if len(changes) == 0 {
		changes = []TextChange{{
			Start:   Location{Line: 1, Offset: 1},
			End:     endLocation(old),
			NewText: content,
		}}
	}
	for _, ch := range changes {
		err := c.ExecuteWithoutWaitingForResponse(CommandChange, changeArgs{
			File:         path,
			Line:         ch.Start.Line,
			Offset:       ch.Start.Offset,
			EndLine:      ch.End.Line,
			EndOffset:    ch.End.Offset,
			InsertString: ch.NewText,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ChangeFileAt applies one positional edit to an open document: the
// replay copy is patched and the change request carries the edit as-is.
func (c *Client) ChangeFileAt(path string, change TextChange) error {
	c.docMu.Lock()
	doc, ok := c.docs[path]
	if !ok {
		c.docMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, path)
	}
	patched, err := applyEdit(doc.content, change)
	if err != nil {
		c.docMu.Unlock()
		return fmt.Errorf("%s: %w", path, err)
	}
	doc.content = patched
	doc.version++
	c.docMu.Unlock()

	return c.ExecuteWithoutWaitingForResponse(CommandChange, changeArgs{
		File:         path,
		Line:         change.Start.Line,
		Offset:       change.Start.Offset,
		EndLine:      change.End.Line,
		EndOffset:    change.End.Offset,
		InsertString: change.NewText,
	})
}

// CloseFile closes an open document and drops its replay record.
func (c *Client) CloseFile(path string) error {
	c.docMu.Lock()
	_, ok := c.docs[path]
	delete(c.docs, path)
	c.docMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotOpen, path)
	}
	return c.ExecuteWithoutWaitingForResponse(CommandClose, closeArgs{File: path})
}

// OpenFiles returns the paths of all tracked documents.
func (c *Client) OpenFiles() []string {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	files := make([]string, 0, len(c.docs))
	for path := range c.docs {
		files = append(files, path)
	}
	return files
}

// newRequest assigns the next seq. Seqs are never reused, even across
// restarts.
func (c *Client) newRequest(command string, args json.RawMessage) *Request {
	return &Request{
		Seq:       c.seq.Add(1),
		Type:      typeRequest,
		Command:   command,
		Arguments: args,
	}
}

func (c *Client) publish(e event.Event) {
	if c.bus == nil {
		return
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.bus.Publish(ctx, e)
}

func marshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	return data, nil
}

// defaultPriority derives the queue lane from the command class.
func defaultPriority(command string) Priority {
	switch {
	case isFenceCommand(command):
		return PriorityFence
	case isAsyncCommand(command):
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// scriptKindName maps a file extension onto the server's script kind.
func scriptKindName(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return "TS"
	case ".tsx":
		return "TSX"
	case ".js", ".mjs", ".cjs":
		return "JS"
	case ".jsx":
		return "JSX"
	default:
		return ""
	}
}

// endLocation returns the position just past the final character.
// utf16RuneLen mirrors unicode/utf16.RuneLen, which requires Go 1.23;
// this copy keeps the package buildable on older toolchains.
func utf16RuneLen(r rune) int {
	const (
		surr1    = 0xd800
		surr3    = 0xe000
		surrSelf = 0x10000
		maxRune  = '\U0010FFFF'
	)
	switch {
	case 0 <= r && r < surr1, surr3 <= r && r < surrSelf:
		return 1
	case surrSelf <= r && r <= maxRune:
		return 2
	}
	return -1
}

// Offsets count UTF-16 units the way the server does.
func endLocation(content string) Location {
	line, offset := 1, 1
	for _, r := range content {
		if r == '\n' {
			line++
			offset = 1
			continue
		}
		offset += utf16RuneLen(r)
	}
	return Location{Line: line, Offset: offset}
}

// applyEdit splices NewText over the range [Start, End).
func applyEdit(content string, ch TextChange) (string, error) {
	start, err := byteIndex(content, ch.Start)
	if err != nil {
		return "", err
	}
	end, err := byteIndex(content, ch.End)
	if err != nil {
		return "", err
	}
	if end < start {
		return "", fmt.Errorf("edit range %d:%d-%d:%d inverted",
			ch.Start.Line, ch.Start.Offset, ch.End.Line, ch.End.Offset)
	}
	return content[:start] + ch.NewText + content[end:], nil
}

// byteIndex converts a 1-based line/offset position to a byte index.
// Offsets count UTF-16 units; a position one past the last character of
// a line is valid.
func byteIndex(content string, loc Location) (int, error) {
	if loc.Line < 1 || loc.Offset < 1 {
		return 0, fmt.Errorf("position %d:%d out of range", loc.Line, loc.Offset)
	}
	i := 0
	for line := 1; line < loc.Line; line++ {
		nl := strings.IndexByte(content[i:], '\n')
		if nl < 0 {
			return 0, fmt.Errorf("position %d:%d out of range", loc.Line, loc.Offset)
		}
		i += nl + 1
	}

	units := 1
	for j, r := range content[i:] {
		if units == loc.Offset {
			return i + j, nil
		}
		if r == '\n' {
			break
		}
		units += utf16RuneLen(r)
	}
	if units == loc.Offset {
		// One past the last character of the final line.
		return len(content), nil
	}
	return 0, fmt.Errorf("position %d:%d out of range", loc.Line, loc.Offset)
}
