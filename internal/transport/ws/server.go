package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
	"github.com/JLerxky/prime-game-sub000/internal/protocol"
)

// MapSource yields the map currently served to clients.
type MapSource interface {
	Current() (*snapshot.MapV1, bool)
}

// Holder is a MapSource that is swapped whenever a generation finishes.
type Holder struct {
	mu sync.RWMutex
	m  *snapshot.MapV1
}

func (h *Holder) Set(m *snapshot.MapV1) {
	h.mu.Lock()
	h.m = m
	h.mu.Unlock()
}

func (h *Holder) Current() (*snapshot.MapV1, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m, h.m != nil
}

type client struct {
	id      uint64
	name    string
	planes  []int
	out     chan []byte
	refresh chan struct{}
}

func (c *client) wants(z int) bool {
	return len(c.planes) == 0 || slices.Contains(c.planes, z)
}

type Server struct {
	src MapSource
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client
}

func NewServer(src MapSource, logger *log.Logger) *Server {
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[uint64]*client{},
	}
}

// Clients reports the number of connected clients that completed HELLO.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Notify makes every connected client receive the current map again.
func (s *Server) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

// Broadcast sends v to every connected client, dropping it for clients whose
// queue is full.
func (s *Server) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.out <- b:
		default:
			s.printf("ws client=%d: queue full, dropped broadcast", c.id)
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.clients, c.id)
			s.mu.Unlock()
		}()
		s.printf("ws client=%d name=%q connected", c.id, c.name)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Map pusher: the initial map, then one full resend per Notify.
		go func() {
			if m, ok := s.src.Current(); ok {
				s.pushMap(ctx, c, m)
			} else {
				send(ctx, c, protocol.NewError(protocol.ErrMapNotReady, "map generation in progress"))
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.refresh:
					if m, ok := s.src.Current(); ok {
						s.pushMap(ctx, c, m)
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if reply := s.handle(msg); reply != nil {
				if !send(ctx, c, reply) {
					break
				}
			}
		}
		s.printf("ws client=%d disconnected", c.id)
	}
}

// handle answers one client message after the handshake.
func (s *Server) handle(msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError(protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(protocol.ErrProtoVersion, "expected protocol_version "+protocol.Version)
	}
	switch base.Type {
	case protocol.TypeGetPlane:
		var req protocol.GetPlaneMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return protocol.NewError(protocol.ErrProtoBadRequest, "bad GET_PLANE")
		}
		m, ok := s.src.Current()
		if !ok {
			return protocol.NewError(protocol.ErrMapNotReady, "map generation in progress")
		}
		p, ok := PlaneMessage(m, req.Z)
		if !ok {
			return protocol.NewError(protocol.ErrPlaneNotFound, "no plane at that z")
		}
		return p
	default:
		return protocol.NewError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "bad HELLO"))
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "expected protocol_version "+protocol.Version))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}
	return &client{
		id:      s.nextID.Add(1),
		name:    hello.ClientName,
		planes:  hello.Planes,
		out:     make(chan []byte, 64),
		refresh: make(chan struct{}, 1),
	}
}

func (s *Server) pushMap(ctx context.Context, c *client, m *snapshot.MapV1) {
	if !send(ctx, c, WelcomeMessage(m)) {
		return
	}
	for _, p := range m.Planes {
		if !c.wants(p.Z) {
			continue
		}
		msg, _ := PlaneMessage(m, p.Z)
		if !send(ctx, c, msg) {
			return
		}
	}
}

// send blocks until v is queued or the connection ends.
func send(ctx context.Context, c *client, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
