package tunnelipc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/hashicorp/yamux"
	"golang.org/x/net/netutil"
)

const (
	// DefaultMaxConns caps concurrent control-plane connections to a Server.
	DefaultMaxConns = 8

	streamTimeout = 30 * time.Second
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("tunnelipc: server closed")

// Dialer opens the raw connection to the tunnel runtime.
type Dialer func(ctx context.Context) (net.Conn, error)

// NetDialer dials network/address with a net.Dialer.
func NetDialer(network, address string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
}

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = log.Default()
	return cfg
}

// writeMessage writes a length-prefixed message. A zero length means no data.
func writeMessage(w io.Writer, msg []byte) error {
	if len(msg) > headerSize+maxPayloadSize {
		return fmt.Errorf("%w: message of %d bytes", ErrMalformedFrame, len(msg))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(msg)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(msg) == 0 {
		return nil
	}
	_, err := w.Write(msg)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, nil
	}
	if n > headerSize+maxPayloadSize {
		return nil, fmt.Errorf("%w: message of %d bytes", ErrMalformedFrame, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SessionChannel is a Channel multiplexing one yamux stream per message over
// a single connection to the runtime. The connection is dialed lazily and
// redialed after it breaks.
type SessionChannel struct {
	dial Dialer

	mu      sync.Mutex
	session *yamux.Session
	closed  bool
}

// NewSessionChannel creates a SessionChannel that connects with dial.
func NewSessionChannel(dial Dialer) *SessionChannel {
	return &SessionChannel{dial: dial}
}

func (c *SessionChannel) sessionFor(ctx context.Context) (*yamux.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, net.ErrClosed
	}
	if c.session != nil && !c.session.IsClosed() {
		return c.session, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial tunnel runtime: %w", err)
	}
	sess, err := yamux.Client(conn, yamuxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	c.session = sess
	return sess, nil
}

func (c *SessionChannel) dropSession(sess *yamux.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
	sess.Close()
}

// SendMessage implements Channel.
func (c *SessionChannel) SendMessage(ctx context.Context, msg []byte) ([]byte, error) {
	sess, err := c.sessionFor(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := sess.Open()
	if err != nil {
		c.dropSession(sess)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("write message: %w", err)
	}
	reply, err := readMessage(stream)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// Close shuts the session down. Later sends fail.
func (c *SessionChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// Handler answers requests on the runtime side.
type Handler interface {
	ReloadSettings(ctx context.Context) error
	TunnelStatus(ctx context.Context) (TunnelStatus, error)
	Reconnect(ctx context.Context, selected *relay.Result) error
}

// Server serves Handler to SessionChannel clients.
type Server struct {
	handler  Handler
	maxConns int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*yamux.Session]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewServer creates a Server. maxConns <= 0 means DefaultMaxConns.
func NewServer(h Handler, maxConns int) *Server {
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler:   h,
		maxConns:  maxConns,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[*yamux.Session]struct{}),
	}
}

// Serve accepts connections on ln until Close. It always returns a non-nil
// error, ErrServerClosed after Close.
func (s *Server) Serve(ln net.Listener) error {
	ln = netutil.LimitListener(ln, s.maxConns)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}
		sess, err := yamux.Server(conn, yamuxConfig())
		if err != nil {
			log.Printf("[tunnelipc] start session failed: %v", err)
			conn.Close()
			continue
		}
		if !s.track(sess) {
			sess.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go s.serveSession(sess)
	}
}

func (s *Server) track(sess *yamux.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) serveSession(sess *yamux.Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		sess.Close()
	}()

	for {
		stream, err := sess.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(stream)
		}()
	}
}

func (s *Server) serveStream(stream net.Conn) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(streamTimeout))

	msg, err := readMessage(stream)
	if err != nil {
		log.Printf("[tunnelipc] read request failed: %v", err)
		return
	}
	reply := s.HandleMessage(s.ctx, msg)
	if err := writeMessage(stream, reply); err != nil {
		log.Printf("[tunnelipc] write reply failed: %v", err)
	}
}

// HandleMessage decodes one request frame, dispatches it to the handler and
// returns the encoded reply.
func (s *Server) HandleMessage(ctx context.Context, msg []byte) []byte {
	id, req, err := DecodeRequest(msg)
	if err != nil {
		log.Printf("[tunnelipc] decode request failed: %v", err)
		return encodeErrorResponse(id, err)
	}
	log.Printf("[tunnelipc] received %s request %s", req.Kind(), id)

	var result any
	switch r := req.(type) {
	case ReloadSettings:
		err = s.handler.ReloadSettings(ctx)
	case GetTunnelStatus:
		var status TunnelStatus
		status, err = s.handler.TunnelStatus(ctx)
		result = status
	case Reconnect:
		err = s.handler.Reconnect(ctx, r.Relay)
	}
	if err != nil {
		log.Printf("[tunnelipc] handle %s failed: %v", req.Kind(), err)
		return encodeErrorResponse(id, err)
	}

	reply, err := EncodeResponse(req.Kind(), id, result)
	if err != nil {
		log.Printf("[tunnelipc] %v", err)
		return encodeErrorResponse(id, err)
	}
	return reply
}

// Close stops accepting, closes every session and waits for in-flight
// requests.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	for ln := range s.listeners {
		ln.Close()
	}
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
