package tsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/tsbridge/internal/event"
)

// service is one running server instance: transport, queue, registry,
// canceller, and the goroutines connecting them. The Client creates a
// fresh service per spawn and never reuses one.
type service struct {
	tr        Transport
	queue     *RequestQueue
	callbacks *CallbackRegistry
	canceller Canceller
	bus       *event.Bus
	logger    *slog.Logger

	group  *errgroup.Group
	cancel context.CancelFunc

	// exited is closed once both loops have ended and the exit status
	// arrived.
	exited chan struct{}
}

func newService(tr Transport, canceller Canceller, bus *event.Bus, logger *slog.Logger) *service {
	return &service{
		tr:        tr,
		queue:     NewRequestQueue(),
		callbacks: NewCallbackRegistry(),
		canceller: canceller,
		bus:       bus,
		logger:    logger,
		exited:    make(chan struct{}),
	}
}

// run starts the read and dispatch loops. It does not block.
func (s *service) run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.dispatchLoop(gctx) })
}

// wait blocks until both loops end and the peer's exit status arrives.
// The transport is dead afterwards.
func (s *service) wait() (ExitStatus, error) {
	err := s.group.Wait()
	s.tr.Kill()
	st := <-s.tr.Exit()
	close(s.exited)
	return st, err
}

// stop ends the loops without touching pending state.
func (s *service) stop() {
	s.cancel()
}

// shutdown fails everything still pending with reason. Called exactly
// once, after the loops have ended.
func (s *service) shutdown(reason string) {
	for _, item := range s.queue.Drain() {
		if item.done == nil {
			continue
		}
		if cb, ok := s.callbacks.Fetch(item.req.Seq); ok {
			cb.resolve(noServerResult(reason))
		}
	}
	s.callbacks.Destroy(reason)
	s.canceller.Close()
}

// enqueue registers the callback (when a response is expected) and queues
// the request.
func (s *service) enqueue(req *Request, priority Priority, expectsResponse, isAsync, nonRecoverable bool) (*callback, error) {
	var cb *callback
	var done chan struct{}
	if expectsResponse {
		cb = newCallback(req.Command, req.Seq, isAsync)
		cb.nonRecoverable = nonRecoverable
		done = cb.done
		s.callbacks.Add(cb)
	}

	item := &queueItem{
		req:             req,
		priority:        priority,
		expectsResponse: expectsResponse,
		isAsync:         isAsync,
		done:            done,
	}
	if err := s.queue.Enqueue(item); err != nil {
		if cb != nil {
			s.callbacks.Fetch(req.Seq)
		}
		return nil, err
	}
	return cb, nil
}

// cancelRequest cancels one request by seq: unsent requests leave the
// queue, in-flight ones get the out-of-band signal. The waiting caller
// resolves now either way; a late response finds no callback and is
// dropped.
func (s *service) cancelRequest(seq int64, reason string) bool {
	if s.queue.TryDeletePending(seq) {
		if cb, ok := s.callbacks.Fetch(seq); ok {
			cb.resolve(cancelledResult(reason))
		}
		s.logger.Debug("request cancelled before send", "seq", seq)
		return true
	}
	if cb, ok := s.callbacks.Fetch(seq); ok {
		if s.canceller.Cancel(seq) {
			s.logger.Debug("cancellation signalled", "seq", seq)
		}
		cb.resolve(cancelledResult(reason))
		return true
	}
	return false
}

func (s *service) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.tr.Messages():
			if !ok {
				select {
				case err := <-s.tr.Err():
					return fmt.Errorf("read stream: %w", err)
				default:
					return ErrServerExited
				}
			}
			s.handleMessage(ctx, msg)
		}
	}
}

// dispatchLoop writes queued requests. At most one synchronous request
// may await its response at a time; async requests and fire-and-forget
// writes do not hold the slot.
func (s *service) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Notify():
		}
		for {
			item, ok := s.queue.Dequeue()
			if !ok {
				break
			}
			if err := s.writeItem(ctx, item); err != nil {
				return err
			}
			if item.done != nil && !item.isAsync {
				select {
				case <-item.done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *service) writeItem(ctx context.Context, item *queueItem) error {
	data, err := item.req.Marshal()
	if err != nil {
		return err
	}
	s.logger.Debug("request", "seq", item.req.Seq, "command", item.req.Command, "priority", item.priority.String())
	if err := s.tr.Write(ctx, data); err != nil {
		return fmt.Errorf("write %s request: %w", item.req.Command, err)
	}
	return nil
}

func (s *service) handleMessage(ctx context.Context, data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		s.logger.Warn("undecodable message", "error", err)
		return
	}
	switch m := msg.(type) {
	case *Response:
		s.handleResponse(m)
	case *Event:
		s.handleEvent(ctx, m)
	}
}

func (s *service) handleResponse(resp *Response) {
	cb, ok := s.callbacks.Fetch(resp.RequestSeq)
	if !ok {
		// Cancelled or unknown; late responses are dropped.
		s.logger.Debug("response without pending request", "request_seq", resp.RequestSeq, "command", resp.Command)
		return
	}
	s.canceller.Done(resp.RequestSeq)
	s.logger.Debug("response", "seq", resp.RequestSeq, "command", resp.Command,
		"success", resp.Success, "elapsed", time.Since(cb.startedAt))

	fatal := !resp.Success && !resp.IsNoContent() && cb.nonRecoverable
	cb.resolve(responseResult(resp))
	if fatal {
		// The server is known-wedged after these failures.
		s.logger.Error("non-recoverable request failed, killing server",
			"command", resp.Command, "message", resp.Message)
		s.tr.Kill()
	}
}

func (s *service) handleEvent(ctx context.Context, ev *Event) {
	switch ev.Event {
	case EventRequestCompleted:
		s.handleRequestCompleted(ev)

	case EventSyntaxDiag, EventSemanticDiag, EventSuggestionDiag:
		var body struct {
			File        string          `json:"file"`
			Diagnostics json.RawMessage `json:"diagnostics"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed diagnostics event", "event", ev.Event, "error", err)
			return
		}
		kind := DiagSyntax
		switch ev.Event {
		case EventSemanticDiag:
			kind = DiagSemantic
		case EventSuggestionDiag:
			kind = DiagSuggestion
		}
		s.publish(ctx, DiagnosticsEvent{Kind: kind, File: body.File, Diagnostics: body.Diagnostics})

	case EventConfigFileDiag:
		var body struct {
			TriggerFile string          `json:"triggerFile"`
			ConfigFile  string          `json:"configFile"`
			Diagnostics json.RawMessage `json:"diagnostics"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed configFileDiag event", "error", err)
			return
		}
		s.publish(ctx, ConfigFileDiagEvent{
			TriggerFile: body.TriggerFile,
			ConfigFile:  body.ConfigFile,
			Diagnostics: body.Diagnostics,
		})

	case EventProjectsUpdated:
		var body struct {
			OpenFiles []string `json:"openFiles"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed projectsUpdatedInBackground event", "error", err)
			return
		}
		s.publish(ctx, ProjectsUpdatedEvent{OpenFiles: body.OpenFiles})

	case EventProjectLangService:
		var body struct {
			ProjectName            string `json:"projectName"`
			LanguageServiceEnabled bool   `json:"languageServiceEnabled"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed projectLanguageServiceState event", "error", err)
			return
		}
		s.publish(ctx, LanguageServiceStateEvent{ProjectName: body.ProjectName, Enabled: body.LanguageServiceEnabled})

	case EventBeginInstallTypes, EventEndInstallTypes:
		var body struct {
			Packages []string `json:"packages"`
			Success  bool     `json:"success"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed install types event", "event", ev.Event, "error", err)
			return
		}
		s.publish(ctx, TypingsInstallEvent{
			Begin:    ev.Event == EventBeginInstallTypes,
			Packages: body.Packages,
			Success:  body.Success,
		})

	case EventTelemetry:
		var body struct {
			TelemetryEventName string          `json:"telemetryEventName"`
			Payload            json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			s.logger.Warn("malformed telemetry event", "error", err)
			return
		}
		s.publish(ctx, TelemetryEvent{Name: body.TelemetryEventName, Payload: body.Payload})

	case EventTypingsInstallerPid:
		s.logger.Debug("typings installer started", "pid", gjson.GetBytes(ev.Body, "pid").Int())

	default:
		s.logger.Debug("unhandled event", "event", ev.Event)
	}
}

// handleRequestCompleted resolves the async request the event refers to.
func (s *service) handleRequestCompleted(ev *Event) {
	var body requestCompletedBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		s.logger.Warn("malformed requestCompleted event", "error", err)
		return
	}
	cb, ok := s.callbacks.Fetch(body.RequestSeq)
	if !ok {
		s.logger.Debug("requestCompleted without pending request", "request_seq", body.RequestSeq)
		return
	}
	if !cb.isAsync {
		// Unexpected, but resolving leaves no caller hanging.
		s.logger.Warn("requestCompleted for synchronous request", "request_seq", body.RequestSeq, "command", cb.command)
	}
	s.canceller.Done(body.RequestSeq)
	cb.resolve(responseResult(&Response{
		Seq:        ev.Seq,
		Type:       typeResponse,
		Command:    cb.command,
		RequestSeq: body.RequestSeq,
		Success:    true,
		Body:       ev.Body,
	}))
}

func (s *service) publish(ctx context.Context, e event.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, e)
}
