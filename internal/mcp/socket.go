package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/HyphaGroup/portcullis/internal/logger"
)

const (
	// socketGreetingPrefix starts the connect-time credential line
	socketGreetingPrefix = "PORTCULLIS "

	// socketGreetingTimeout bounds how long a fresh connection may sit
	// silent before the greeting must have arrived.
	socketGreetingTimeout = 10 * time.Second

	// socketMaxLine caps one newline-delimited message
	socketMaxLine = 1 << 20
)

// errLineTooLong reports a message that exceeded socketMaxLine without
// a terminating newline.
var errLineTooLong = errors.New("message exceeds size limit")

// SocketListener is the persistent-connection front-end. Clients
// connect over TCP or a unix socket, send one greeting line
// ("PORTCULLIS <bearer>") carrying their credential, then exchange
// newline-delimited JSON-RPC. One session per connection, messages
// processed strictly in arrival order.
type SocketListener struct {
	engine    *Engine
	listeners []net.Listener
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// NewSocketListener creates the socket transport around an engine
func NewSocketListener(engine *Engine) *SocketListener {
	return &SocketListener{engine: engine}
}

// ListenTCP starts accepting connections on a TCP address
func (l *SocketListener) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("socket transport: %w", err)
	}
	l.serve(ln)
	logger.Info("Socket transport listening on tcp %s", addr)
	return nil
}

// ListenUnix starts accepting connections on a unix socket path,
// replacing a stale socket file from a previous run.
func (l *SocketListener) ListenUnix(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("socket transport: %w", err)
	}
	l.serve(ln)
	logger.Info("Socket transport listening on unix %s", path)
	return nil
}

func (l *SocketListener) serve(ln net.Listener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, ln)
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				l.mu.Lock()
				closed := l.closed
				l.mu.Unlock()
				if !closed {
					logger.Error("socket accept: %v", err)
				}
				return
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.handleConn(conn)
			}()
		}
	}()
}

// Close stops accepting and waits for connection goroutines. Open
// connections see read errors once their peers disconnect; in-flight
// bridge calls finish in the background regardless.
func (l *SocketListener) Close() {
	l.mu.Lock()
	l.closed = true
	listeners := l.listeners
	l.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	l.wg.Wait()
}

// handleConn owns one connection for its lifetime
func (l *SocketListener) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReaderSize(conn, socketMaxLine)

	_ = conn.SetReadDeadline(time.Now().Add(socketGreetingTimeout))
	bearer, err := readGreeting(reader)
	if err != nil {
		logger.Slog().Warn("socket greeting rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sess, err := l.engine.Sessions().Create()
	if err != nil {
		logger.Slog().Warn("socket connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	defer l.engine.Sessions().Close(sess.ID)

	logger.Slog().Info("socket connection opened",
		"session_id", sess.ID,
		"remote", conn.RemoteAddr().String())

	for {
		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				logger.Slog().Warn("socket message too large",
					"session_id", sess.ID,
					"limit", socketMaxLine)
				resp := marshalResponse(newErrorResponse(nullID, &JSONRPCError{
					Code:    CodeInvalidRequest,
					Message: "Message exceeds size limit",
				}))
				_ = writeLine(conn, resp)
				return
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Slog().Warn("socket read", "session_id", sess.ID, "error", err)
			}
			return
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}

		resp := l.engine.Handle(context.Background(), sess, bearer, line)
		if resp != nil {
			if err := writeLine(conn, resp); err != nil {
				logger.Slog().Warn("socket write", "session_id", sess.ID, "error", err)
				return
			}
		}

		// A session still NEW after its first message failed to
		// authenticate or negotiate; the error response has been sent,
		// drop the connection.
		if sess.State() == StateNew {
			return
		}
	}
}

// readGreeting consumes and validates the connect-time credential line
func readGreeting(reader *bufio.Reader) (string, error) {
	raw, err := readLine(reader)
	if err != nil {
		return "", fmt.Errorf("reading greeting: %w", err)
	}
	line := strings.TrimRight(string(raw), "\r\n")
	bearer, ok := strings.CutPrefix(line, socketGreetingPrefix)
	if !ok || strings.TrimSpace(bearer) == "" {
		return "", errors.New("malformed greeting line")
	}
	return strings.TrimSpace(bearer), nil
}

// readLine reads one newline-terminated line, buffering at most
// socketMaxLine bytes. A longer line returns errLineTooLong; the
// connection cannot be resynchronized afterwards and must be dropped.
func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, errLineTooLong
		}
		return nil, err
	}
	// ReadSlice's result aliases the reader's buffer; copy so the
	// caller can hold it across the next read.
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func writeLine(conn net.Conn, payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := conn.Write(buf)
	return err
}
