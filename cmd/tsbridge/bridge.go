package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/dshills/tsbridge/internal/event"
	"github.com/dshills/tsbridge/internal/tsserver"
)

// errServerFatal ends the bridge loop when the crash policy gave up on
// the server.
var errServerFatal = errors.New("tsserver crashed too often")

// bridge speaks the tsserver protocol to an editor on in/out and fronts
// the supervised client. Document commands update the client's replay
// store inline so ordering holds; everything else passes through with
// the seq rewritten on the way back.
type bridge struct {
	client *tsserver.Client
	sched  *tsserver.DiagnosticsScheduler
	bus    *event.Bus
	logger *slog.Logger

	reader *tsserver.FrameReader
	writer *tsserver.FrameWriter
	seq    atomic.Int64

	wg        sync.WaitGroup
	fatal     chan struct{}
	fatalOnce sync.Once
}

// newBridge wires a bridge over in and out. Responses and events go out
// header-framed, the way the server itself writes them. With pullDiags
// set the bridge requests diagnostics itself after opens and edits.
func newBridge(client *tsserver.Client, bus *event.Bus, logger *slog.Logger, in io.Reader, out io.Writer, pullDiags bool) *bridge {
	b := &bridge{
		client: client,
		bus:    bus,
		logger: logger,
		reader: tsserver.NewFrameReader(in, tsserver.FrameAuto),
		writer: tsserver.NewFrameWriter(out, tsserver.FrameHeaders),
		fatal:  make(chan struct{}),
	}
	if pullDiags {
		b.sched = tsserver.NewDiagnosticsScheduler(client)
	}
	return b
}

// run serves the editor until its stream ends, it sends exit, ctx is
// cancelled, or the server is declared dead for good. Only the last
// returns an error.
func (b *bridge) run(ctx context.Context) error {
	subs := b.subscribe()
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
		if b.sched != nil {
			b.sched.Close()
		}
	}()

	type readResult struct {
		payload []byte
		err     error
	}
	reads := make(chan readResult, 1)
	go func() {
		for {
			payload, err := b.reader.ReadMessage()
			reads <- readResult{payload, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.fatal:
			return errServerFatal
		case r := <-reads:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read editor request: %w", r.err)
			}
			if exit := b.dispatch(ctx, r.payload); exit {
				return nil
			}
		}
	}
}

// drain waits for in-flight responders. Call after the client stopped,
// which resolves every pending request.
func (b *bridge) drain() {
	b.wg.Wait()
}

// dispatch routes one editor request. Document commands run inline so
// the store mutates in arrival order; waiting happens in goroutines.
func (b *bridge) dispatch(ctx context.Context, payload []byte) (exit bool) {
	req, err := parseEditorRequest(payload)
	if err != nil {
		b.logger.Warn("dropping editor request", "error", err)
		return false
	}

	switch req.Command {
	case tsserver.CommandOpen:
		b.handleOpen(req)
	case tsserver.CommandChange:
		b.handleChange(req)
	case tsserver.CommandClose:
		b.handleClose(req)
	case tsserver.CommandUpdateOpen:
		b.handleUpdateOpen(req)
	case tsserver.CommandExit:
		return true
	case tsserver.CommandGeterr, tsserver.CommandGeterrForProject:
		b.handleGeterr(ctx, req)
	case tsserver.CommandReloadProjects, tsserver.CommandCompilerOptions, tsserver.CommandConfigurePlugin:
		// Fire-and-forget on the protocol; the server never answers.
		if err := b.client.ExecuteWithoutWaitingForResponse(req.Command, req.Arguments); err != nil {
			b.logger.Warn("request dropped", "command", req.Command, "error", err)
		}
	default:
		b.handlePassthrough(ctx, req)
	}
	return false
}

// parseEditorRequest decodes one editor payload.
func parseEditorRequest(payload []byte) (*tsserver.Request, error) {
	var req tsserver.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if req.Type != "" && req.Type != "request" {
		return nil, fmt.Errorf("unexpected message type %q", req.Type)
	}
	if req.Command == "" {
		return nil, errors.New("request without command")
	}
	return &req, nil
}

type openRequestArgs struct {
	File            string `json:"file"`
	FileContent     string `json:"fileContent"`
	ProjectRootPath string `json:"projectRootPath"`
}

func (b *bridge) handleOpen(req *tsserver.Request) {
	var args openRequestArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil || args.File == "" {
		b.logger.Warn("dropping open without file", "error", err)
		return
	}
	if err := b.client.OpenFile(args.File, args.FileContent, args.ProjectRootPath); err != nil {
		b.logger.Warn("open failed", "file", args.File, "error", err)
		return
	}
	b.scheduleDiagnostics(args.File)
}

type changeRequestArgs struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Offset       int    `json:"offset"`
	EndLine      int    `json:"endLine"`
	EndOffset    int    `json:"endOffset"`
	InsertString string `json:"insertString"`
}

func (b *bridge) handleChange(req *tsserver.Request) {
	var args changeRequestArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil || args.File == "" {
		b.logger.Warn("dropping change without file", "error", err)
		return
	}
	b.client.InterruptFor(args.File)
	err := b.client.ChangeFileAt(args.File, tsserver.TextChange{
		Start:   tsserver.Location{Line: args.Line, Offset: args.Offset},
		End:     tsserver.Location{Line: args.EndLine, Offset: args.EndOffset},
		NewText: args.InsertString,
	})
	if err != nil {
		b.logger.Warn("change failed", "file", args.File, "error", err)
		return
	}
	b.scheduleDiagnostics(args.File)
}

func (b *bridge) handleClose(req *tsserver.Request) {
	file := gjson.GetBytes(req.Arguments, "file").String()
	if file == "" {
		b.logger.Warn("dropping close without file")
		return
	}
	b.client.InterruptFor(file)
	if err := b.client.CloseFile(file); err != nil {
		b.logger.Warn("close failed", "file", file, "error", err)
	}
}

type updateOpenArgs struct {
	OpenFiles []struct {
		File            string `json:"file"`
		FileContent     string `json:"fileContent"`
		ProjectRootPath string `json:"projectRootPath"`
	} `json:"openFiles"`
	ChangedFiles []struct {
		FileName    string     `json:"fileName"`
		TextChanges []wireEdit `json:"textChanges"`
	} `json:"changedFiles"`
	ClosedFiles []string `json:"closedFiles"`
}

type wireEdit struct {
	Start   tsserver.Location `json:"start"`
	End     tsserver.Location `json:"end"`
	NewText string            `json:"newText"`
}

// handleUpdateOpen unpacks the batched sync command into individual
// open, change, and close calls so the replay store stays authoritative.
// The server answers updateOpen, so the bridge synthesizes the response.
func (b *bridge) handleUpdateOpen(req *tsserver.Request) {
	var args updateOpenArgs
	if err := json.Unmarshal(req.Arguments, &args); err != nil {
		b.writeFailure(req, fmt.Sprintf("malformed updateOpen arguments: %v", err))
		return
	}

	apply := func() error {
		for _, open := range args.OpenFiles {
			if err := b.client.OpenFile(open.File, open.FileContent, open.ProjectRootPath); err != nil {
				return err
			}
			b.scheduleDiagnostics(open.File)
		}
		for _, changed := range args.ChangedFiles {
			b.client.InterruptFor(changed.FileName)
			for _, edit := range changed.TextChanges {
				err := b.client.ChangeFileAt(changed.FileName, tsserver.TextChange{
					Start:   edit.Start,
					End:     edit.End,
					NewText: edit.NewText,
				})
				if err != nil {
					return err
				}
			}
			b.scheduleDiagnostics(changed.FileName)
		}
		for _, file := range args.ClosedFiles {
			b.client.InterruptFor(file)
			if err := b.client.CloseFile(file); err != nil {
				return err
			}
		}
		return nil
	}

	if err := apply(); err != nil {
		b.writeFailure(req, err.Error())
		return
	}
	b.writeResponse(tsserver.Response{
		Command:    req.Command,
		RequestSeq: req.Seq,
		Success:    true,
		Body:       json.RawMessage("true"),
	})
}

// handleGeterr passes a diagnostics pull through and synthesizes the
// requestCompleted event under the editor's seq once it resolves.
func (b *bridge) handleGeterr(ctx context.Context, req *tsserver.Request) {
	var opts []tsserver.ExecOption
	for _, f := range gjson.GetBytes(req.Arguments, "files").Array() {
		opts = append(opts, tsserver.CancelOnResourceChange(f.String()))
	}
	p, err := b.client.BeginExecuteAsync(req.Command, req.Arguments, opts...)
	if err != nil {
		b.logger.Warn("diagnostics request dropped", "command", req.Command, "error", err)
		// Complete the editor's pull anyway so its diagnostics state
		// machine does not wait forever.
		b.writeEvent(tsserver.EventRequestCompleted, map[string]int64{"request_seq": req.Seq})
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_, _ = p.Wait(ctx)
		b.writeEvent(tsserver.EventRequestCompleted, map[string]int64{"request_seq": req.Seq})
	}()
}

// handlePassthrough forwards any other command and rewrites the
// response onto the editor's seq.
func (b *bridge) handlePassthrough(ctx context.Context, req *tsserver.Request) {
	p, err := b.client.BeginExecute(req.Command, req.Arguments)
	if err != nil {
		b.writeFailure(req, err.Error())
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, _ := p.Wait(ctx)
		switch res.Outcome {
		case tsserver.OutcomeResponse, tsserver.OutcomeNoContent:
			resp := *res.Response
			resp.RequestSeq = req.Seq
			b.writeResponse(resp)
		case tsserver.OutcomeCancelled:
			b.writeFailure(req, "Request cancelled: "+res.Reason)
		default:
			b.writeFailure(req, res.Reason)
		}
	}()
}

func (b *bridge) scheduleDiagnostics(file string) {
	if b.sched != nil {
		b.sched.File(file)
	}
}

// writeResponse stamps the next outgoing seq and frames resp for the
// editor.
func (b *bridge) writeResponse(resp tsserver.Response) {
	resp.Seq = b.seq.Add(1)
	resp.Type = "response"
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("marshal response", "command", resp.Command, "error", err)
		return
	}
	if err := b.writer.WriteMessage(data); err != nil {
		b.logger.Warn("write response", "command", resp.Command, "error", err)
	}
}

func (b *bridge) writeFailure(req *tsserver.Request, message string) {
	b.writeResponse(tsserver.Response{
		Command:    req.Command,
		RequestSeq: req.Seq,
		Success:    false,
		Message:    message,
	})
}

func (b *bridge) writeEvent(name string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		b.logger.Error("marshal event", "event", name, "error", err)
		return
	}
	ev := tsserver.Event{
		Seq:   b.seq.Add(1),
		Type:  "event",
		Event: name,
		Body:  raw,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", "event", name, "error", err)
		return
	}
	if err := b.writer.WriteMessage(data); err != nil {
		b.logger.Warn("write event", "event", name, "error", err)
	}
}

// diagEventName maps a diagnostics kind onto its wire event.
func diagEventName(kind tsserver.DiagKind) string {
	switch kind {
	case tsserver.DiagSyntax:
		return tsserver.EventSyntaxDiag
	case tsserver.DiagSemantic:
		return tsserver.EventSemanticDiag
	case tsserver.DiagSuggestion:
		return tsserver.EventSuggestionDiag
	default:
		return ""
	}
}

// subscribe re-emits bus events as wire events for the editor.
// Handlers run synchronously so event order survives the trip.
func (b *bridge) subscribe() []*event.Subscription {
	return []*event.Subscription{
		b.bus.Subscribe(tsserver.TopicDiagnostics, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.DiagnosticsEvent)
			if !ok {
				return
			}
			name := diagEventName(ev.Kind)
			if name == "" {
				return
			}
			b.writeEvent(name, struct {
				File        string          `json:"file"`
				Diagnostics json.RawMessage `json:"diagnostics"`
			}{ev.File, ev.Diagnostics})
		}),
		b.bus.Subscribe(tsserver.TopicConfigFileDiag, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.ConfigFileDiagEvent)
			if !ok {
				return
			}
			b.writeEvent(tsserver.EventConfigFileDiag, struct {
				TriggerFile string          `json:"triggerFile"`
				ConfigFile  string          `json:"configFile"`
				Diagnostics json.RawMessage `json:"diagnostics"`
			}{ev.TriggerFile, ev.ConfigFile, ev.Diagnostics})
		}),
		b.bus.Subscribe(tsserver.TopicProjectsUpdated, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.ProjectsUpdatedEvent)
			if !ok {
				return
			}
			b.writeEvent(tsserver.EventProjectsUpdated, struct {
				OpenFiles []string `json:"openFiles"`
			}{ev.OpenFiles})
		}),
		b.bus.Subscribe(tsserver.TopicLanguageServiceState, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.LanguageServiceStateEvent)
			if !ok {
				return
			}
			b.writeEvent(tsserver.EventProjectLangService, struct {
				ProjectName string `json:"projectName"`
				Enabled     bool   `json:"languageServiceEnabled"`
			}{ev.ProjectName, ev.Enabled})
		}),
		b.bus.Subscribe(tsserver.TopicTypingsInstall, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.TypingsInstallEvent)
			if !ok {
				return
			}
			if ev.Begin {
				b.writeEvent(tsserver.EventBeginInstallTypes, struct {
					Packages []string `json:"packages"`
				}{ev.Packages})
				return
			}
			b.writeEvent(tsserver.EventEndInstallTypes, struct {
				Packages []string `json:"packages"`
				Success  bool     `json:"success"`
			}{ev.Packages, ev.Success})
		}),
		b.bus.Subscribe(tsserver.TopicTelemetry, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.TelemetryEvent)
			if !ok {
				return
			}
			b.writeEvent(tsserver.EventTelemetry, struct {
				Name    string          `json:"telemetryEventName"`
				Payload json.RawMessage `json:"payload"`
			}{ev.Name, ev.Payload})
		}),
		b.bus.Subscribe(tsserver.TopicServerStarted, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.ServerStartedEvent)
			if !ok {
				return
			}
			b.logger.Info("tsserver ready", "version", ev.Version, "pid", ev.PID, "restarted", ev.Restarted)
		}),
		b.bus.Subscribe(tsserver.TopicServerStopped, func(_ context.Context, e event.Event) {
			ev, ok := e.(tsserver.ServerStoppedEvent)
			if !ok || !ev.Fatal {
				return
			}
			b.fatalOnce.Do(func() { close(b.fatal) })
		}),
	}
}
