package protocol

import (
	"context"
	"io"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Server is the method surface the language server implements. The
// dispatcher maps JSON-RPC methods onto it.
type Server interface {
	Initialize(ctx context.Context, params *InitializeParams) (*InitializeResult, error)
	Initialized(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	DidOpen(ctx context.Context, params *DidOpenTextDocumentParams) error
	DidChange(ctx context.Context, params *DidChangeTextDocumentParams) error
	DidClose(ctx context.Context, params *DidCloseTextDocumentParams) error
	DidChangeConfiguration(ctx context.Context, params *DidChangeConfigurationParams) error

	SemanticTokensFull(ctx context.Context, params *SemanticTokensParams) (*SemanticTokens, error)
	Statistics(ctx context.Context, params *StatisticsParams) (*StatisticsResult, error)
}

// Publisher pushes server-initiated notifications to the editor.
type Publisher interface {
	PublishDiagnostics(ctx context.Context, params *PublishDiagnosticsParams) error
}

// CodeContentModified is returned when a request raced a newer document
// version and its result would describe stale content.
const CodeContentModified jrpc2.Code = -32801

// ErrStaleVersion builds the structured stale-version error.
func ErrStaleVersion(uri DocumentURI, requested, current int32) error {
	return jrpc2.Errorf(CodeContentModified,
		"document %s version %d superseded by version %d", uri, requested, current)
}

// ApplyRequestToZerolog stamps the request method and id onto the context
// logger so every log line of a handler carries them.
func ApplyRequestToZerolog(ctx context.Context, req *jrpc2.Request) context.Context {
	logger := zerolog.Ctx(ctx).With().
		Str("rpc_method", req.Method()).
		Str("rpc_id", req.ID()).
		Logger()
	return logger.WithContext(ctx)
}

// createHandler adapts a typed request method to a jrpc2 handler.
func createHandler[T any, R any](method string, fn func(context.Context, *T) (R, error)) handler.Func {
	return func(ctx context.Context, req *jrpc2.Request) (any, error) {
		ctx = ApplyRequestToZerolog(ctx, req)
		var params T
		if req.HasParams() {
			if err := req.UnmarshalParams(&params); err != nil {
				return nil, jrpc2.Errorf(jrpc2.InvalidParams, "decoding %s params: %v", method, err)
			}
		}
		zerolog.Ctx(ctx).Trace().Msg("request received")
		return fn(ctx, &params)
	}
}

// createNotifyHandler adapts a typed notification method.
func createNotifyHandler[T any](method string, fn func(context.Context, *T) error) handler.Func {
	wrapped := func(ctx context.Context, params *T) (any, error) {
		return nil, fn(ctx, params)
	}
	return createHandler(method, wrapped)
}

func methodMap(s Server) handler.Map {
	return handler.Map{
		"initialize": createHandler("initialize", s.Initialize),
		"initialized": createNotifyHandler("initialized", func(ctx context.Context, _ *struct{}) error {
			return s.Initialized(ctx)
		}),
		"shutdown": createHandler("shutdown", func(ctx context.Context, _ *struct{}) (any, error) {
			return nil, s.Shutdown(ctx)
		}),
		"exit": createNotifyHandler("exit", func(ctx context.Context, _ *struct{}) error {
			return s.Exit(ctx)
		}),

		"textDocument/didOpen":   createNotifyHandler("textDocument/didOpen", s.DidOpen),
		"textDocument/didChange": createNotifyHandler("textDocument/didChange", s.DidChange),
		"textDocument/didClose":  createNotifyHandler("textDocument/didClose", s.DidClose),
		"workspace/didChangeConfiguration": createNotifyHandler(
			"workspace/didChangeConfiguration", s.DidChangeConfiguration),

		"textDocument/semanticTokens/full": createHandler(
			"textDocument/semanticTokens/full", s.SemanticTokensFull),
		"tLinter/statistics": createHandler("tLinter/statistics", s.Statistics),

		"$/cancelRequest": handler.Func(func(ctx context.Context, req *jrpc2.Request) (any, error) {
			var p CancelParams
			if err := req.UnmarshalParams(&p); err != nil {
				return nil, jrpc2.Errorf(jrpc2.InvalidParams, "decoding cancel params: %v", err)
			}
			if srv := jrpc2.ServerFromContext(ctx); srv != nil {
				srv.CancelRequest(strings.Trim(string(p.ID), `"`))
			}
			return nil, nil
		}),
	}
}

// rpcLog traces raw JSON-RPC traffic at trace level for protocol
// debugging sessions.
type rpcLog struct{}

func (rpcLog) LogRequest(ctx context.Context, req *jrpc2.Request) {
	zerolog.Ctx(ctx).Trace().
		Str("rpc_method", req.Method()).
		Str("rpc_id", req.ID()).
		Bool("notification", req.IsNotification()).
		Msg("rpc request")
}

func (rpcLog) LogResponse(ctx context.Context, rsp *jrpc2.Response) {
	ev := zerolog.Ctx(ctx).Trace().Str("rpc_id", rsp.ID())
	if err := rsp.Error(); err != nil {
		ev = ev.Str("rpc_error", err.Error())
	}
	ev.Msg("rpc response")
}

// Instance is one running protocol server bound to a transport.
type Instance struct {
	server Server
	rpc    *jrpc2.Server
}

func NewInstance(s Server) *Instance {
	return &Instance{server: s}
}

// PublishDiagnostics implements Publisher over the instance transport.
func (i *Instance) PublishDiagnostics(ctx context.Context, params *PublishDiagnosticsParams) error {
	if i.rpc == nil {
		return errors.New("server not started")
	}
	if err := i.rpc.Notify(ctx, "textDocument/publishDiagnostics", params); err != nil {
		return errors.Errorf("publishing diagnostics for %s: %w", params.URI, err)
	}
	return nil
}

// StartAndWait serves the protocol over the reader/writer pair with LSP
// framing until the transport closes or the server stops.
func (i *Instance) StartAndWait(ctx context.Context, in io.Reader, out io.Writer) error {
	i.rpc = jrpc2.NewServer(methodMap(i.server), &jrpc2.ServerOptions{
		AllowPush:   true,
		Concurrency: 4,
		NewContext:  func() context.Context { return ctx },
		RPCLog:      rpcLog{},
	})

	zerolog.Ctx(ctx).Info().Msg("language server listening on stdio")
	i.rpc.Start(channel.LSP(in, asWriteCloser(out)))

	stat := i.rpc.WaitStatus()
	if stat.Err != nil {
		return errors.Errorf("server stopped: %w", stat.Err)
	}
	return nil
}

// asWriteCloser adapts an io.Writer to the io.WriteCloser channel.LSP
// expects. Closing must propagate to the underlying stream when it
// supports it, so the peer sees EOF when the channel shuts down.
func asWriteCloser(w io.Writer) io.WriteCloser {
	if wc, ok := w.(io.WriteCloser); ok {
		return wc
	}
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Stop terminates the server loop.
func (i *Instance) Stop() {
	if i.rpc != nil {
		i.rpc.Stop()
	}
}
