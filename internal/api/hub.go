package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"svcmonitor/internal/logger"
	"svcmonitor/internal/probe"
	"svcmonitor/internal/report"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 64
)

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(r.Host), strings.TrimSpace(u.Host))
	},
}

// EventMessage 推送给 websocket 客户端的消息
type EventMessage struct {
	probe.Event
	TotalSuccessful uint64 `json:"total_successful"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan EventMessage
}

// Hub 把探测事件广播给所有 websocket 客户端
// 客户端跟不上时直接断开，不阻塞调度器
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub 创建广播器
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Report 实现 report.Reporter
func (h *Hub) Report(ev probe.Event, successes uint64) {
	msg := EventMessage{Event: ev, TotalSuccessful: successes}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.Warnf("[API] websocket 客户端消费过慢，断开: %s", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ServeWS 升级连接并持续推送事件
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsClient{conn: conn, send: make(chan EventMessage, wsSendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// 读循环只用于感知断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

var _ report.Reporter = (*Hub)(nil)
