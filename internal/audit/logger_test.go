package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.Log(&Event{
		Operation: OpToolCall,
		TenantID:  "acme",
		TokenID:   "pct_0123456789abcdef0123456789abcdef",
		Tool:      "general_echo",
		Success:   true,
	})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal audit line: %v\n%s", err, line)
	}
	if entry["operation"] != string(OpToolCall) {
		t.Errorf("operation = %v, want %s", entry["operation"], OpToolCall)
	}
	if entry["tenant_id"] != "acme" {
		t.Errorf("tenant_id = %v, want acme", entry["tenant_id"])
	}
	if strings.Contains(line, "0123456789abcdef0123456789abcdef") {
		t.Errorf("audit line leaks token body: %s", line)
	}
}

func TestLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.LogSuccess(OpTokenCreate, "acme", "pct_whatever")
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}
}

func TestInitFileSink(t *testing.T) {
	logDir := t.TempDir()
	if err := InitFile(logDir); err != nil {
		t.Fatalf("InitFile() error = %v", err)
	}
	defer func() { _ = Close() }()

	LogFailure(OpAuthFailure, "acme", "", os.ErrPermission)

	data, err := os.ReadFile(filepath.Join(logDir, "audit.log"))
	if err != nil {
		t.Fatalf("reading audit.log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("unmarshal audit.log line: %v\n%s", err, data)
	}
	if entry["operation"] != string(OpAuthFailure) {
		t.Errorf("operation = %v, want %s", entry["operation"], OpAuthFailure)
	}
	if entry["success"] != false {
		t.Errorf("success = %v, want false", entry["success"])
	}
}
