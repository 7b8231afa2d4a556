// Package wsproto is the wire codec for the relay's WebSocket transport:
// an Engine.IO-style outer framing (open/close/ping/pong/message) carrying
// Socket.IO-style inner packets (connect/event/ack). The server never
// inspects payload content at this layer — it only frames and parses.
//
// Adapted from internal/socketio/protocol.go; the codec itself is
// domain-generic, so this is a rename, not a rewrite of behavior.
package wsproto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type EnginePacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
)

type SocketPacketType byte

const (
	SocketConnect SocketPacketType = '0'
	SocketEvent   SocketPacketType = '2'
	SocketAck     SocketPacketType = '3'
)

// ParseOptionalNamespace splits a leading "/namespace," prefix off s, if
// present, defaulting to "/" when the frame carries no explicit namespace.
func ParseOptionalNamespace(s string) (namespace string, rest string) {
	return parseOptionalNamespace(s)
}

func parseOptionalNamespace(s string) (namespace string, rest string) {
	if !strings.HasPrefix(s, "/") {
		return "/", s
	}
	comma := strings.IndexByte(s, ',')
	if comma == -1 {
		return "/", s
	}
	return s[:comma], s[comma+1:]
}

func parseOptionalIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

// SocketEventPacket is a parsed inbound event frame: ["eventName", arg...].
type SocketEventPacket struct {
	Namespace string
	ID        *int
	Event     string
	Args      []json.RawMessage
}

func ParseSocketEventPacket(payload string) (SocketEventPacket, error) {
	if payload == "" {
		return SocketEventPacket{}, errors.New("empty payload")
	}
	if payload[0] != byte(SocketEvent) {
		return SocketEventPacket{}, errors.New("not an event packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if !strings.HasPrefix(rest, "[") {
		return SocketEventPacket{}, errors.New("invalid event payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return SocketEventPacket{}, err
	}
	if len(arr) == 0 {
		return SocketEventPacket{}, errors.New("missing event name")
	}
	var eventName string
	if err := json.Unmarshal(arr[0], &eventName); err != nil {
		return SocketEventPacket{}, errors.New("invalid event name")
	}

	return SocketEventPacket{Namespace: ns, ID: id, Event: eventName, Args: arr[1:]}, nil
}

// SocketAckPacket is a parsed inbound ack frame, keyed by the id the
// original event carried.
type SocketAckPacket struct {
	Namespace string
	ID        int
	Args      []json.RawMessage
}

func ParseSocketAckPacket(payload string) (SocketAckPacket, error) {
	if payload == "" {
		return SocketAckPacket{}, errors.New("empty payload")
	}
	if payload[0] != byte(SocketAck) {
		return SocketAckPacket{}, errors.New("not an ack packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if id == nil {
		return SocketAckPacket{}, errors.New("missing ack id")
	}
	if !strings.HasPrefix(rest, "[") {
		return SocketAckPacket{}, errors.New("invalid ack payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return SocketAckPacket{}, err
	}
	return SocketAckPacket{Namespace: ns, ID: *id, Args: arr}, nil
}

func BuildSocketEventPacket(namespace string, id *int, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketEvent))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	if id != nil {
		b.WriteString(strconv.Itoa(*id))
	}
	b.Write(data)
	return b.String(), nil
}

func BuildSocketConnectPacket(namespace string, sid string) (string, error) {
	data, err := json.Marshal(map[string]string{"sid": sid})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketConnect))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	b.Write(data)
	return b.String(), nil
}

func BuildSocketAckPacket(namespace string, id int, args ...any) (string, error) {
	if args == nil {
		args = make([]any, 0)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketAck))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(id))
	b.Write(data)
	return b.String(), nil
}

// WrapEngineMessage frames a Socket.IO-level packet as an Engine.IO
// message frame — the shape every event/ack/connect packet travels in.
func WrapEngineMessage(packet string) string {
	return string(EngineMessage) + packet
}

// EnginePingFrame and EnginePongFrame are the bare heartbeat frames.
func EnginePingFrame() string { return string(EnginePing) }
func EnginePongFrame() string { return string(EnginePong) }

// BuildEngineOpenFrame frames the handshake payload the server sends
// immediately after upgrade.
func BuildEngineOpenFrame(sid string, pingIntervalMillis, pingTimeoutMillis int64) (string, error) {
	data, err := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     []string{},
		"pingInterval": pingIntervalMillis,
		"pingTimeout":  pingTimeoutMillis,
	})
	if err != nil {
		return "", err
	}
	return string(EngineOpen) + string(data), nil
}

const updateIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomUpdateID returns a 12-character random key for an update event's
// client-side idempotency id — short, not a UUID, since nothing ever
// looks it up.
func randomUpdateID() (string, error) {
	const length = 12
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, length)
	for i, b := range buf {
		id[i] = updateIDAlphabet[int(b)%len(updateIDAlphabet)]
	}
	return string(id), nil
}

// BuildUpdateFrame wraps body as a durable "update" event — the shape
// every account-seq-carrying emission takes, whether it originates from
// the WebSocket handler or an HTTP mutation. seq must already be
// allocated by the caller; this function only frames the wire payload.
func BuildUpdateFrame(seq int64, createdAtMillis int64, body map[string]any) ([]byte, error) {
	id, err := randomUpdateID()
	if err != nil {
		return nil, err
	}
	packet, err := BuildSocketEventPacket("/", nil, "update", map[string]any{
		"id":        id,
		"seq":       seq,
		"createdAt": createdAtMillis,
		"body":      body,
	})
	if err != nil {
		return nil, err
	}
	return []byte(WrapEngineMessage(packet)), nil
}

// BuildEphemeralFrame wraps body as an unsequenced, unlogged event frame.
func BuildEphemeralFrame(event string, body map[string]any) ([]byte, error) {
	packet, err := BuildSocketEventPacket("/", nil, event, body)
	if err != nil {
		return nil, err
	}
	return []byte(WrapEngineMessage(packet)), nil
}

// ParseEngineFrame splits a raw inbound WS text frame into its Engine.IO
// type byte and remaining payload.
func ParseEngineFrame(raw string) (EnginePacketType, string, error) {
	if raw == "" {
		return 0, "", errors.New("empty frame")
	}
	return EnginePacketType(raw[0]), raw[1:], nil
}
