package tunnelipc

import (
	"context"
	"errors"
	"log"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/google/uuid"
)

// Channel delivers one message to the tunnel runtime and returns its reply.
// A nil reply means the runtime sent no data.
type Channel interface {
	SendMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg []byte) ([]byte, error)

func (f ChannelFunc) SendMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return f(ctx, msg)
}

// Client sends typed requests over a Channel.
type Client struct {
	ch Channel
}

// NewClient creates a Client on ch.
func NewClient(ch Channel) *Client {
	return &Client{ch: ch}
}

// ReloadSettings tells the runtime to re-read its tunnel settings.
func (c *Client) ReloadSettings(ctx context.Context) error {
	_, err := c.exchange(ctx, ReloadSettings{}, false)
	return err
}

// TunnelStatus fetches the runtime's live status.
func (c *Client) TunnelStatus(ctx context.Context) (TunnelStatus, error) {
	return send[TunnelStatus](ctx, c, GetTunnelStatus{})
}

// Reconnect asks the runtime to reconnect. A nil result lets the runtime
// pick the relay itself.
func (c *Client) Reconnect(ctx context.Context, selected *relay.Result) error {
	_, err := c.exchange(ctx, Reconnect{Relay: selected}, false)
	return err
}

func send[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var zero T
	ex, err := c.exchange(ctx, req, true)
	if err != nil {
		return zero, err
	}
	v, err := DecodeResponse[T](ex.reply, req.Kind(), ex.id)
	if err != nil {
		if errors.Is(err, errEmptyPayload) {
			return zero, &Error{Kind: UnexpectedEmptyResponse, Request: req.Kind()}
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			return zero, &Error{Kind: TransmissionFailed, Request: req.Kind(), Err: err}
		}
		log.Printf("[tunnelipc] %s: decode response failed: %v", req.Kind(), err)
		return zero, &Error{Kind: DecodingFailed, Request: req.Kind(), Err: err}
	}
	return v, nil
}

type exchanged struct {
	id    uuid.UUID
	reply []byte
}

// exchange encodes req and transmits it. When wantReply is false any reply
// payload is dropped, but an error frame from the runtime is still reported.
func (c *Client) exchange(ctx context.Context, req Request, wantReply bool) (exchanged, error) {
	id := uuid.New()
	msg, err := EncodeRequest(id, req)
	if err != nil {
		log.Printf("[tunnelipc] %s: encode request failed: %v", req.Kind(), err)
		return exchanged{}, &Error{Kind: EncodingFailed, Request: req.Kind(), Err: err}
	}

	reply, err := c.ch.SendMessage(ctx, msg)
	if err == nil {
		// A reply that raced with cancellation is discarded.
		err = ctx.Err()
	}
	if err != nil {
		if IsCancelled(err) {
			log.Printf("[tunnelipc] %s: cancelled", req.Kind())
		} else {
			log.Printf("[tunnelipc] %s: send failed: %v", req.Kind(), err)
		}
		return exchanged{}, &Error{Kind: TransmissionFailed, Request: req.Kind(), Err: err}
	}

	if wantReply {
		if len(reply) == 0 {
			return exchanged{}, &Error{Kind: UnexpectedEmptyResponse, Request: req.Kind()}
		}
		return exchanged{id: id, reply: reply}, nil
	}

	if len(reply) > 0 {
		if _, err := responsePayload(reply, req.Kind(), id); err != nil {
			var remote *RemoteError
			if errors.As(err, &remote) {
				return exchanged{}, &Error{Kind: TransmissionFailed, Request: req.Kind(), Err: err}
			}
		}
	}
	return exchanged{id: id}, nil
}
