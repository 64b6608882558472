package jsonrpc_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nwrx/mcpserver-operator/pkg/jsonrpc"
)

func TestParseAndIsRequest(t *testing.T) {
	msg, err := jsonrpc.Parse([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !jsonrpc.IsRequest(msg) {
		t.Fatalf("expected IsRequest true for a message carrying an id")
	}
	if msg.Method != "ping" {
		t.Fatalf("method = %q", msg.Method)
	}
}

func TestNotificationHasNoID(t *testing.T) {
	msg, err := jsonrpc.Parse([]byte(`{"jsonrpc":"2.0","method":"log"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if jsonrpc.IsRequest(msg) {
		t.Fatalf("a notification must not be treated as a request")
	}
}

func TestEncodeAppendsSingleNewline(t *testing.T) {
	out, err := jsonrpc.Encode(&jsonrpc.Message{ID: json.RawMessage("7"), Result: json.RawMessage(`"pong"`)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasSuffix(string(out), "\n") {
		t.Fatalf("expected a trailing newline")
	}
	if strings.Count(string(out), "\n") != 1 {
		t.Fatalf("expected exactly one newline, got %q", out)
	}
}

func TestMatchesID(t *testing.T) {
	a, _ := jsonrpc.Parse([]byte(`{"jsonrpc":"2.0","id":7,"result":1}`))
	if !jsonrpc.MatchesID(a, json.RawMessage("7")) {
		t.Fatalf("expected id 7 to match")
	}
	if jsonrpc.MatchesID(a, json.RawMessage("8")) {
		t.Fatalf("id 8 must not match")
	}
}

func TestInternalErrorPreservesID(t *testing.T) {
	id := json.RawMessage("7")
	msg := jsonrpc.InternalError(id, "timed out")
	if !jsonrpc.MatchesID(msg, id) {
		t.Fatalf("InternalError must preserve the original id")
	}
	if msg.Error == nil || msg.Error.Message != "timed out" {
		t.Fatalf("unexpected error object: %+v", msg.Error)
	}
}
