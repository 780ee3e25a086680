// Package tunnelipc implements the request/response protocol spoken between
// the control plane and the tunnel runtime process.
//
// Every message is a single frame:
//
//	[version:1][tag:1][id:16][len:4 big-endian][JSON payload]
//
// A response echoes the tag and id of its request. Tag 0 in a response
// carries an error reported by the runtime.
package tunnelipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/google/uuid"
)

// WireVersion is the frame version written by this package.
const WireVersion byte = 1

const (
	headerSize     = 1 + 1 + 16 + 4
	maxPayloadSize = 1 << 20
)

var (
	ErrUnrecognizedRequest = errors.New("tunnelipc: unrecognized request")
	ErrUnsupportedVersion  = errors.New("tunnelipc: unsupported wire version")
	ErrMalformedFrame      = errors.New("tunnelipc: malformed frame")
)

// RequestKind is the wire tag of a request.
type RequestKind uint8

const (
	kindError RequestKind = 0

	KindReloadSettings  RequestKind = 1
	KindGetTunnelStatus RequestKind = 2
	KindReconnect       RequestKind = 3
)

func (k RequestKind) String() string {
	switch k {
	case KindReloadSettings:
		return "reload-settings"
	case KindGetTunnelStatus:
		return "get-tunnel-status"
	case KindReconnect:
		return "reconnect"
	case kindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Request is one of ReloadSettings, GetTunnelStatus or Reconnect.
type Request interface {
	Kind() RequestKind
	request()
}

// ReloadSettings asks the runtime to re-read tunnel settings. No response payload.
type ReloadSettings struct{}

// GetTunnelStatus asks for the runtime's live status. Answered with TunnelStatus.
type GetTunnelStatus struct{}

// Reconnect asks the runtime to reconnect, optionally to a relay selected
// by the caller. No response payload.
type Reconnect struct {
	Relay *relay.Result `json:"relay,omitempty"`
}

func (ReloadSettings) Kind() RequestKind  { return KindReloadSettings }
func (GetTunnelStatus) Kind() RequestKind { return KindGetTunnelStatus }
func (Reconnect) Kind() RequestKind       { return KindReconnect }

func (ReloadSettings) request()  {}
func (GetTunnelStatus) request() {}
func (Reconnect) request()       {}

// TunnelStatus describes the runtime's connection state.
type TunnelStatus struct {
	IsNetworkReachable     bool            `json:"is_network_reachable"`
	ConnectingSince        *time.Time      `json:"connecting_since,omitempty"`
	NumberOfFailedAttempts uint            `json:"number_of_failed_attempts"`
	Connection             *ConnectionInfo `json:"connection,omitempty"`
}

// ConnectionInfo identifies the relay the runtime is connected to.
type ConnectionInfo struct {
	Hostname  string          `json:"hostname"`
	IPv4Relay netip.AddrPort  `json:"ipv4_relay"`
	IPv6Relay netip.AddrPort  `json:"ipv6_relay,omitzero"`
	Location  *relay.Location `json:"location,omitempty"`
}

// remoteError is the payload of an error response.
type remoteError struct {
	Message string `json:"message"`
}

// EncodeRequest frames req with the correlation id.
func EncodeRequest(id uuid.UUID, req Request) ([]byte, error) {
	var payload []byte
	switch r := req.(type) {
	case ReloadSettings, GetTunnelStatus:
	case Reconnect:
		if r.Relay != nil {
			b, err := json.Marshal(r)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", r.Kind(), err)
			}
			payload = b
		}
	default:
		return nil, ErrUnrecognizedRequest
	}
	return encodeFrame(req.Kind(), id, payload)
}

// DecodeRequest parses a request frame. Unknown tags yield
// ErrUnrecognizedRequest; the id is still returned when the header parsed.
func DecodeRequest(data []byte) (uuid.UUID, Request, error) {
	kind, id, payload, err := decodeFrame(data)
	if err != nil {
		return id, nil, err
	}
	switch kind {
	case KindReloadSettings:
		return id, ReloadSettings{}, nil
	case KindGetTunnelStatus:
		return id, GetTunnelStatus{}, nil
	case KindReconnect:
		var r Reconnect
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &r); err != nil {
				return id, nil, fmt.Errorf("decode %s: %w", kind, err)
			}
		}
		return id, r, nil
	default:
		return id, nil, fmt.Errorf("%w: tag %d", ErrUnrecognizedRequest, uint8(kind))
	}
}

// EncodeResponse frames the reply to a request. A nil v produces an empty
// payload.
func EncodeResponse(kind RequestKind, id uuid.UUID, v any) ([]byte, error) {
	var payload []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s response: %w", kind, err)
		}
		payload = b
	}
	return encodeFrame(kind, id, payload)
}

func encodeErrorResponse(id uuid.UUID, cause error) []byte {
	b, err := json.Marshal(remoteError{Message: cause.Error()})
	if err != nil {
		b = nil
	}
	frame, err := encodeFrame(kindError, id, b)
	if err != nil {
		return nil
	}
	return frame
}

// DecodeResponse parses a response frame for the request (kind, id) into a
// T. A frame without payload yields errEmptyPayload.
func DecodeResponse[T any](data []byte, kind RequestKind, id uuid.UUID) (T, error) {
	var zero T
	payload, err := responsePayload(data, kind, id)
	if err != nil {
		return zero, err
	}
	if len(payload) == 0 {
		return zero, errEmptyPayload
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return zero, fmt.Errorf("decode %s response: %w", kind, err)
	}
	return v, nil
}

var errEmptyPayload = errors.New("tunnelipc: empty response payload")

// RemoteError is returned when the runtime failed to handle a request.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "tunnel runtime: " + e.Message
}

func responsePayload(data []byte, kind RequestKind, id uuid.UUID) ([]byte, error) {
	gotKind, gotID, payload, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	if gotID != id {
		return nil, fmt.Errorf("%w: response id %s does not match request %s", ErrMalformedFrame, gotID, id)
	}
	if gotKind == kindError {
		var re remoteError
		if err := json.Unmarshal(payload, &re); err != nil {
			return nil, fmt.Errorf("decode error response: %w", err)
		}
		return nil, &RemoteError{Message: re.Message}
	}
	if gotKind != kind {
		return nil, fmt.Errorf("%w: response tag %s for %s request", ErrMalformedFrame, gotKind, kind)
	}
	return payload, nil
}

func encodeFrame(kind RequestKind, id uuid.UUID, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, len(payload), maxPayloadSize)
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = WireVersion
	buf[1] = byte(kind)
	copy(buf[2:18], id[:])
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

func decodeFrame(data []byte) (RequestKind, uuid.UUID, []byte, error) {
	var id uuid.UUID
	if len(data) < 2 {
		return 0, id, nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	if data[0] != WireVersion {
		return 0, id, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	if len(data) < headerSize {
		return 0, id, nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(data))
	}
	kind := RequestKind(data[1])
	copy(id[:], data[2:18])
	n := binary.BigEndian.Uint32(data[18:22])
	if n > maxPayloadSize || int(n) != len(data)-headerSize {
		return kind, id, nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrMalformedFrame, n, len(data)-headerSize)
	}
	return kind, id, data[headerSize:], nil
}
