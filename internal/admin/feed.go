package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/collector"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	feedBuffer = 256
)

// FeedMessage is one event pushed to feed clients
type FeedMessage struct {
	Type string          `json:"type"` // "start" or "end"
	Span *collector.Span `json:"span"`
}

// SpanFeed streams span events to websocket clients. It is a collector
// exporter; attach it to the recorder the agent reports to.
type SpanFeed struct {
	connections map[*websocket.Conn]bool
	broadcast   chan *FeedMessage
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	dropped     int64
}

// NewSpanFeed creates a feed and starts its dispatch loop.
func NewSpanFeed(logger *zap.Logger) *SpanFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &SpanFeed{
		connections: make(map[*websocket.Conn]bool),
		broadcast:   make(chan *FeedMessage, feedBuffer),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				// local tooling only
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go f.run()
	return f
}

func (f *SpanFeed) run() {
	for {
		select {
		case <-f.done:
			f.mutex.Lock()
			for conn := range f.connections {
				conn.Close()
				delete(f.connections, conn)
			}
			f.mutex.Unlock()
			return

		case conn := <-f.register:
			f.mutex.Lock()
			f.connections[conn] = true
			n := len(f.connections)
			f.mutex.Unlock()
			f.logger.Debug("feed client connected", zap.Int("clients", n))

		case conn := <-f.unregister:
			f.mutex.Lock()
			if _, ok := f.connections[conn]; ok {
				delete(f.connections, conn)
				conn.Close()
			}
			n := len(f.connections)
			f.mutex.Unlock()
			f.logger.Debug("feed client disconnected", zap.Int("clients", n))

		case message := <-f.broadcast:
			f.sendToAll(message)
		}
	}
}

func (f *SpanFeed) sendToAll(message *FeedMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		f.logger.Warn("failed to marshal feed message", zap.Error(err))
		return
	}

	f.mutex.RLock()
	var failed []*websocket.Conn
	for conn := range f.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			f.logger.Debug("feed write failed", zap.Error(err))
			failed = append(failed, conn)
		}
	}
	f.mutex.RUnlock()

	if len(failed) > 0 {
		f.mutex.Lock()
		for _, conn := range failed {
			if _, ok := f.connections[conn]; ok {
				conn.Close()
				delete(f.connections, conn)
			}
		}
		f.mutex.Unlock()
	}
}

// HandleWebSocket upgrades the request and subscribes the client.
func (f *SpanFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}
	select {
	case f.register <- conn:
		go f.readMessages(conn)
	case <-f.done:
		conn.Close()
	}
}

// readMessages drains the client until it goes away
func (f *SpanFeed) readMessages(conn *websocket.Conn) {
	defer func() {
		select {
		case f.unregister <- conn:
		case <-f.done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.logger.Debug("feed client error", zap.Error(err))
			}
			return
		}
	}
}

// Clients returns the number of connected clients.
func (f *SpanFeed) Clients() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.connections)
}

// Dropped returns how many events were discarded because the dispatch
// loop fell behind.
func (f *SpanFeed) Dropped() int64 {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.dropped
}

// publish never blocks the instrumented thread: events are dropped when
// the dispatch loop falls behind.
func (f *SpanFeed) publish(kind string, s *collector.Span) {
	cp := *s
	select {
	case <-f.done:
	case f.broadcast <- &FeedMessage{Type: kind, Span: &cp}:
	default:
		f.mutex.Lock()
		f.dropped++
		f.mutex.Unlock()
	}
}

func (f *SpanFeed) SpanStarted(s *collector.Span) {
	f.publish("start", s)
}

func (f *SpanFeed) SpanEnded(_ context.Context, s *collector.Span) error {
	f.publish("end", s)
	return nil
}

// Shutdown disconnects every client and stops the dispatch loop.
func (f *SpanFeed) Shutdown(context.Context) error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
