// portcullis-client is an MCP stdio bridge to a running Portcullis
// daemon. It connects over the daemon's socket transport, authenticates
// with a bearer token, mirrors the remote tool catalog on a local stdio
// MCP server and proxies tool calls through the socket.
//
// Local MCP hosts (editors, desktop clients) speak stdio to this
// process; the daemon enforces tenancy, scopes and credentials.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	protocolVersion = "2025-06-18"
	callTimeout     = 60 * time.Second
)

// daemonConn manages the newline-delimited JSON-RPC connection to the
// Portcullis daemon.
type daemonConn struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	pending map[int]chan rpcResponse
}

type rpcResponse struct {
	Result json.RawMessage
	Err    *rpcError
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

func main() {
	fs := flag.NewFlagSet("portcullis-client", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9191", "Daemon socket address (host:port, or a unix socket path)")
	token := fs.String("token", "", "Bearer token (default: PORTCULLIS_TOKEN env)")
	_ = fs.Parse(os.Args[1:])

	bearer := *token
	if bearer == "" {
		bearer = os.Getenv("PORTCULLIS_TOKEN")
	}
	if bearer == "" {
		fmt.Fprintln(os.Stderr, "portcullis-client: no token (use --token or PORTCULLIS_TOKEN)")
		os.Exit(1)
	}

	daemon, err := dial(*addr, bearer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portcullis-client: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = daemon.conn.Close() }()

	initResult, err := daemon.initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "portcullis-client: initialize: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "portcullis-client: connected to %s %s\n",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	tools, err := daemon.listTools()
	if err != nil {
		fmt.Fprintf(os.Stderr, "portcullis-client: tools/list: %v\n", err)
		os.Exit(1)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "portcullis-bridge",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	for _, tool := range tools {
		registerRemoteTool(server, daemon, tool)
	}
	fmt.Fprintf(os.Stderr, "portcullis-client: bridging %d tools\n", len(tools))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "portcullis-client: server error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon and sends the greeting line. Addresses
// containing a path separator select the unix transport.
func dial(addr, bearer string) (*daemonConn, error) {
	network := "tcp"
	if strings.ContainsAny(addr, "/\\") {
		network = "unix"
	}
	conn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if _, err := fmt.Fprintf(conn, "PORTCULLIS %s\n", bearer); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending greeting: %w", err)
	}

	d := &daemonConn{
		conn:    conn,
		pending: make(map[int]chan rpcResponse),
	}
	go d.readLoop()
	return d, nil
}

// call sends one request and waits for its response
func (d *daemonConn) call(method string, params any) (json.RawMessage, error) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	respChan := make(chan rpcResponse, 1)
	d.pending[id] = respChan
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	if err := d.writeLine(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Result, nil
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("timeout waiting for %s response", method)
	}
}

// notify sends a notification (no response expected)
func (d *daemonConn) notify(method string) error {
	return d.writeLine(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	})
}

func (d *daemonConn) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.conn.Write(data)
	return err
}

// readLoop dispatches responses to waiting callers
func (d *daemonConn) readLoop() {
	reader := bufio.NewReader(d.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "portcullis-client: read error: %v\n", err)
			}
			d.failPending(fmt.Errorf("connection closed"))
			return
		}

		var msg struct {
			ID     *int            `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(line, &msg); err != nil || msg.ID == nil {
			continue
		}

		d.mu.Lock()
		if ch, ok := d.pending[*msg.ID]; ok {
			ch <- rpcResponse{Result: msg.Result, Err: msg.Error}
		}
		d.mu.Unlock()
	}
}

func (d *daemonConn) failPending(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.pending {
		ch <- rpcResponse{Err: &rpcError{Code: -32603, Message: err.Error()}}
		delete(d.pending, id)
	}
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Instructions string `json:"instructions,omitempty"`
}

func (d *daemonConn) initialize() (*initializeResult, error) {
	raw, err := d.call("initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "portcullis-bridge",
			"version": "0.1.0",
		},
	})
	if err != nil {
		return nil, err
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing initialize result: %w", err)
	}
	if err := d.notify("notifications/initialized"); err != nil {
		return nil, err
	}
	return &result, nil
}

// remoteTool is one entry from the daemon's tools/list
type remoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (d *daemonConn) listTools() ([]remoteTool, error) {
	raw, err := d.call("tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []remoteTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing tools/list result: %w", err)
	}
	return result.Tools, nil
}

// toolArgs is the generic input type for bridged tools
type toolArgs map[string]any

// registerRemoteTool mirrors one daemon tool on the local stdio server.
// The daemon's schema passes through so the host validates arguments
// the same way the daemon will.
func registerRemoteTool(server *mcp.Server, daemon *daemonConn, tool remoteTool) {
	schema := &jsonschema.Schema{Type: "object"}
	if len(tool.InputSchema) > 0 {
		parsed := &jsonschema.Schema{}
		if err := json.Unmarshal(tool.InputSchema, parsed); err != nil {
			fmt.Fprintf(os.Stderr, "portcullis-client: bad schema for %s: %v\n", tool.Name, err)
		} else {
			schema = parsed
		}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}

	name := tool.Name
	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: tool.Description,
		InputSchema: schema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args toolArgs) (*mcp.CallToolResult, any, error) {
		return proxyToolCall(daemon, name, args)
	})
}

// proxyToolCall forwards one call to the daemon and relays the result
func proxyToolCall(daemon *daemonConn, name string, args toolArgs) (*mcp.CallToolResult, any, error) {
	raw, err := daemon.call("tools/call", map[string]any{
		"name":      name,
		"arguments": map[string]any(args),
	})
	if err != nil {
		return nil, nil, err
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil, fmt.Errorf("parsing tools/call result: %w", err)
	}
	return &result, nil, nil
}
