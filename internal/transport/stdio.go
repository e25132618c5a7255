package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// stdioRequestTimeout is the hard per-request timeout protecting against a
// backend that never answers, per spec.md §4.3.1.
const stdioRequestTimeout = 30 * time.Second

// StdioConfig describes how to spawn a subprocess-stdio backend.
type StdioConfig struct {
	Command string
	Args    []string
	Env     []string // "KEY=VALUE" pairs appended to the child's environment
	Dir     string
}

// StdioTransport spawns a child process and speaks newline-delimited
// JSON-RPC over its stdin/stdout.
type StdioTransport struct {
	cfg StdioConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *JSONRPCResponse

	connected atomic.Bool
	closeOnce sync.Once
}

func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	return &StdioTransport{cfg: cfg, pending: make(map[int64]chan *JSONRPCResponse)}
}

func (t *StdioTransport) start() error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	if t.cfg.Dir != "" {
		cmd.Dir = t.cfg.Dir
	}
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), t.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return gwerr.Wrap(gwerr.KindTransport, fmt.Sprintf("spawn %q", t.cfg.Command), err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected.Store(true)

	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			logging.Warn("transport.stdio", "unparseable line from %s: %v", t.cfg.Command, err)
			continue
		}
		t.dispatch(&resp)
	}
	t.connected.Store(false)
	t.failAllPending()
}

func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logging.Debug("transport.stdio", "%s stderr: %s", t.cfg.Command, scanner.Text())
	}
}

func (t *StdioTransport) dispatch(resp *JSONRPCResponse) {
	id, ok := numericID(resp.ID)
	if !ok {
		return
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (t *StdioTransport) failAllPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func numericID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Initialize performs the MCP handshake. Stdio backends do not negotiate
// protocol versions against a server error the way HTTP does in practice,
// but the same request/response contract and preference list apply: the
// gateway simply offers its most-preferred version and accepts whatever
// the child reports back.
func (t *StdioTransport) Initialize(ctx context.Context) error {
	if t.cmd == nil {
		if err := t.start(); err != nil {
			return err
		}
	}

	resp, err := t.Request(ctx, "initialize", map[string]any{
		"protocolVersion": PreferredProtocolVersion(),
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "mcp-gateway", "version": "1"},
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return gwerr.New(gwerr.KindProtocol, fmt.Sprintf("initialize failed: %s", resp.Error.Message))
	}

	t.Notify(ctx, "notifications/initialized", nil)
	return nil
}

func (t *StdioTransport) Request(ctx context.Context, method string, params any) (*JSONRPCResponse, error) {
	if t.cmd == nil {
		if err := t.start(); err != nil {
			return nil, err
		}
	}

	id := t.nextID.Add(1)
	respCh := make(chan *JSONRPCResponse, 1)

	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		t.removePending(id)
		return nil, gwerr.Wrap(gwerr.KindConfig, "marshal request", err)
	}

	if err := t.writeLine(raw); err != nil {
		t.removePending(id)
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, stdioRequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, gwerr.New(gwerr.KindTransport, fmt.Sprintf("%s closed before responding", t.cfg.Command))
		}
		return resp, nil
	case <-timeoutCtx.Done():
		t.removePending(id)
		return nil, gwerr.New(gwerr.KindTimeout, fmt.Sprintf("no response to %q within %s", method, stdioRequestTimeout))
	}
}

func (t *StdioTransport) removePending(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *StdioTransport) writeLine(raw []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(raw); err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "write request", err)
	}
	if _, err := t.stdin.Write([]byte("\n")); err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "write newline", err)
	}
	return nil
}

func (t *StdioTransport) Notify(ctx context.Context, method string, params any) {
	req := JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		logging.Warn("transport.stdio", "marshal notification %q: %v", method, err)
		return
	}
	if err := t.writeLine(raw); err != nil {
		logging.Warn("transport.stdio", "send notification %q: %v", method, err)
	}
}

func (t *StdioTransport) IsConnected() bool { return t.connected.Load() }

func (t *StdioTransport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			closeErr = t.cmd.Process.Kill()
		}
		t.failAllPending()
	})
	return closeErr
}
