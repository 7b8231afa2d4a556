package wsproto

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildAndParseSocketEventPacket(t *testing.T) {
	packet, err := BuildSocketEventPacket("/", nil, "message", map[string]string{"sid": "s1"})
	if err != nil {
		t.Fatalf("BuildSocketEventPacket: %v", err)
	}

	parsed, err := ParseSocketEventPacket(packet)
	if err != nil {
		t.Fatalf("ParseSocketEventPacket: %v", err)
	}
	if parsed.Event != "message" {
		t.Fatalf("expected event %q, got %q", "message", parsed.Event)
	}
	if len(parsed.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(parsed.Args))
	}
}

func TestBuildAndParseSocketEventPacket_WithAckID(t *testing.T) {
	id := 7
	packet, err := BuildSocketEventPacket("/", &id, "rpc-call", "arg1")
	if err != nil {
		t.Fatalf("BuildSocketEventPacket: %v", err)
	}

	parsed, err := ParseSocketEventPacket(packet)
	if err != nil {
		t.Fatalf("ParseSocketEventPacket: %v", err)
	}
	if parsed.ID == nil || *parsed.ID != 7 {
		t.Fatalf("expected ack id 7, got %v", parsed.ID)
	}
}

func TestParseSocketEventPacket_RejectsNonEventPayload(t *testing.T) {
	if _, err := ParseSocketEventPacket(string(SocketAck) + "0[]"); err == nil {
		t.Fatalf("expected error parsing an ack packet as an event packet")
	}
}

func TestBuildAndParseSocketAckPacket(t *testing.T) {
	packet, err := BuildSocketAckPacket("/", 3, "result")
	if err != nil {
		t.Fatalf("BuildSocketAckPacket: %v", err)
	}

	parsed, err := ParseSocketAckPacket(packet)
	if err != nil {
		t.Fatalf("ParseSocketAckPacket: %v", err)
	}
	if parsed.ID != 3 {
		t.Fatalf("expected ack id 3, got %d", parsed.ID)
	}
}

func TestParseEngineFrame(t *testing.T) {
	typ, rest, err := ParseEngineFrame(string(EngineMessage) + "hello")
	if err != nil {
		t.Fatalf("ParseEngineFrame: %v", err)
	}
	if typ != EngineMessage || rest != "hello" {
		t.Fatalf("got type=%c rest=%q", typ, rest)
	}
}

func TestBuildUpdateFrame_IDIsTwelveCharacters(t *testing.T) {
	frame, err := BuildUpdateFrame(1, 1000, map[string]any{"t": "new-session"})
	if err != nil {
		t.Fatalf("BuildUpdateFrame: %v", err)
	}

	raw := strings.TrimPrefix(string(frame), string(EngineMessage))
	parsed, err := ParseSocketEventPacket(raw)
	if err != nil {
		t.Fatalf("ParseSocketEventPacket: %v", err)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(parsed.Args[0], &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.ID) != 12 {
		t.Fatalf("expected a 12-character id, got %q (%d chars)", payload.ID, len(payload.ID))
	}
}

func TestBuildEngineOpenFrame(t *testing.T) {
	frame, err := BuildEngineOpenFrame("sid-1", 25000, 20000)
	if err != nil {
		t.Fatalf("BuildEngineOpenFrame: %v", err)
	}
	if frame[0] != byte(EngineOpen) {
		t.Fatalf("expected frame to start with the open type byte")
	}
}
