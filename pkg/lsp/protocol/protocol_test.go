package protocol_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/lsp"
	"github.com/koxudaxi/t-linter/pkg/lsp/protocol"
)

type session struct {
	client *jrpc2.Client

	mu       sync.Mutex
	notified []string
}

func (s *session) notifications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notified...)
}

// startSession wires a real server and client over in-memory pipes with
// LSP framing.
func startSession(t *testing.T) *session {
	t.Helper()

	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()

	srv := lsp.NewServer(config.Default())
	inst := protocol.NewInstance(srv)
	srv.SetPublisher(inst)
	srv.OnExit = inst.Stop

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = inst.StartAndWait(ctx, serverReads, serverWrites)
	}()

	s := &session{}
	s.client = jrpc2.NewClient(channel.LSP(clientReads, clientWrites), &jrpc2.ClientOptions{
		OnNotify: func(req *jrpc2.Request) {
			s.mu.Lock()
			s.notified = append(s.notified, req.Method())
			s.mu.Unlock()
		},
	})

	t.Cleanup(func() {
		_ = s.client.Close()
		inst.Stop()
		cancel()
		<-done
	})
	return s
}

func call[R any](t *testing.T, s *session, method string, params any) R {
	t.Helper()
	var out R
	rsp, err := s.client.Call(context.Background(), method, params)
	require.NoError(t, err, "calling %s", method)
	require.NoError(t, rsp.UnmarshalResult(&out))
	return out
}

func TestSessionLifecycle(t *testing.T) {
	s := startSession(t)

	init := call[protocol.InitializeResult](t, s, "initialize", protocol.InitializeParams{})
	assert.Equal(t, "t-linter", init.ServerInfo.Name)
	require.NotEmpty(t, init.Capabilities.SemanticTokensProvider.Legend.TokenTypes)

	err := s.client.Notify(context.Background(), "textDocument/didOpen",
		protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI: "file:///a.py", LanguageID: "python", Version: 1,
				Text: `q: Annotated[Template, "sql"] = t"SELECT {x}"` + "\n",
			},
		})
	require.NoError(t, err)

	// notifications are asynchronous, wait for the document to land
	require.Eventually(t, func() bool {
		rsp, err := s.client.Call(context.Background(), "tLinter/statistics",
			protocol.StatisticsParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
			})
		if err != nil {
			return false
		}
		var stats protocol.StatisticsResult
		return rsp.UnmarshalResult(&stats) == nil && stats.TotalTemplateStrings == 1
	}, 5*time.Second, 20*time.Millisecond)

	tokens := call[protocol.SemanticTokens](t, s, "textDocument/semanticTokens/full",
		protocol.SemanticTokensParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
		})
	assert.NotEmpty(t, tokens.Data)
	assert.Zero(t, len(tokens.Data)%5)

	assert.Contains(t, s.notifications(), "textDocument/publishDiagnostics")
}

func TestUnknownDocumentError(t *testing.T) {
	s := startSession(t)
	call[protocol.InitializeResult](t, s, "initialize", protocol.InitializeParams{})

	_, err := s.client.Call(context.Background(), "textDocument/semanticTokens/full",
		protocol.SemanticTokensParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///missing.py"},
		})
	assert.Error(t, err)
}

func TestStaleVersionErrorCode(t *testing.T) {
	err := protocol.ErrStaleVersion("file:///a.py", 3, 5)
	var rpcErr *jrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeContentModified, rpcErr.Code)
}
