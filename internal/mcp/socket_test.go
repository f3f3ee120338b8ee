package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/HyphaGroup/portcullis/internal/auth"
)

// dialSocket starts a TCP socket listener on a free port and connects
func dialSocket(t *testing.T, f *engineFixture) net.Conn {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	listener := NewSocketListener(f.engine)
	listener.serve(ln)
	t.Cleanup(listener.Close)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func readReply(t *testing.T, reader *bufio.Reader) *rpcReply {
	t.Helper()
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var reply rpcReply
	if err := json.Unmarshal(line, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v\n%s", err, line)
	}
	return &reply
}

func TestSocketConversation(t *testing.T) {
	f := newEngineFixture(t)
	f.seedTenant(t, "acme")
	token := f.mintToken(t, "acme", auth.ScopeBasic)

	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	sendLine(t, conn, "PORTCULLIS "+token)
	sendLine(t, conn, initializeBody)
	if reply := readReply(t, reader); reply.Error != nil {
		t.Fatalf("initialize error = %+v", reply.Error)
	}

	sendLine(t, conn, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	// Notifications produce no reply; the next line read must be the
	// tools/call response, in order.
	sendLine(t, conn, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"test_echo","arguments":{"message":"over the wire"}}}`)
	reply := readReply(t, reader)
	if reply.Error != nil {
		t.Fatalf("tools/call error = %+v", reply.Error)
	}
	if got := callText(t, reply.Result); got != "over the wire" {
		t.Errorf("result = %q, want %q", got, "over the wire")
	}

	sendLine(t, conn, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	if reply := readReply(t, reader); reply.Error != nil {
		t.Errorf("ping error = %+v", reply.Error)
	}
}

func TestSocketRejectsBadGreeting(t *testing.T) {
	f := newEngineFixture(t)
	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	sendLine(t, conn, "HELLO not-the-greeting")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := reader.ReadBytes('\n'); err == nil {
		t.Fatal("connection should be dropped after a malformed greeting")
	}
}

func TestSocketDropsConnectionOnFailedHandshake(t *testing.T) {
	f := newEngineFixture(t)
	f.seedTenant(t, "acme")

	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	sendLine(t, conn, "PORTCULLIS "+auth.TokenPrefix+"0000000000000000000000000000000000000000000000000000000000000000")
	sendLine(t, conn, initializeBody)

	reply := readReply(t, reader)
	if reply.Error == nil || reply.Error.Code != CodeUnauthorized {
		t.Fatalf("error = %+v, want code %d", reply.Error, CodeUnauthorized)
	}

	// The error response is the last thing written; the server then
	// closes its end.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := reader.ReadBytes('\n'); err == nil {
		t.Fatal("connection should be dropped after a failed handshake")
	}
}

func TestSocketMessageSizeLimit(t *testing.T) {
	f := newEngineFixture(t)
	f.seedTenant(t, "acme")
	token := f.mintToken(t, "acme", auth.ScopeBasic)

	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	sendLine(t, conn, "PORTCULLIS "+token)
	sendLine(t, conn, initializeBody)
	if reply := readReply(t, reader); reply.Error != nil {
		t.Fatalf("initialize error = %+v", reply.Error)
	}

	// One newline-free message well past the cap. The server must stop
	// buffering at socketMaxLine and drop the connection rather than
	// accumulate the rest, so this write may fail partway through.
	go func() {
		huge := make([]byte, 4*socketMaxLine)
		for i := range huge {
			huge[i] = 'x'
		}
		_, _ = conn.Write(huge)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply := readReply(t, reader)
	if reply.Error == nil || reply.Error.Code != CodeInvalidRequest {
		t.Fatalf("error = %+v, want code %d", reply.Error, CodeInvalidRequest)
	}
	if _, err := reader.ReadBytes('\n'); err == nil {
		t.Fatal("connection should be dropped after an oversized message")
	}
}

func TestSocketGreetingSizeLimit(t *testing.T) {
	f := newEngineFixture(t)
	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	go func() {
		huge := make([]byte, 2*socketMaxLine)
		for i := range huge {
			huge[i] = 'x'
		}
		_, _ = conn.Write(append([]byte("PORTCULLIS "), huge...))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := reader.ReadBytes('\n'); err == nil {
		t.Fatal("connection should be dropped after an oversized greeting")
	}
}

func TestSocketSessionClosedOnDisconnect(t *testing.T) {
	f := newEngineFixture(t)
	f.seedTenant(t, "acme")
	token := f.mintToken(t, "acme", auth.ScopeBasic)

	conn := dialSocket(t, f)
	reader := bufio.NewReader(conn)

	sendLine(t, conn, "PORTCULLIS "+token)
	sendLine(t, conn, initializeBody)
	if reply := readReply(t, reader); reply.Error != nil {
		t.Fatalf("initialize error = %+v", reply.Error)
	}
	if f.engine.Sessions().Count() != 1 {
		t.Fatalf("sessions = %d, want 1", f.engine.Sessions().Count())
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.engine.Sessions().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not reaped after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
