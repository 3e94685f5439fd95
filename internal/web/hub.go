package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingPeriod = 45 * time.Second
	readWait   = 90 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type statusMsg struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Text  string `json:"text"`
}

type resultsMsg struct {
	Type    string          `json:"type"`
	Summary SummaryResponse `json:"summary"`
}

// wsWriter is the write half of a websocket connection
type wsWriter interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
}

// writeLoop sends queued messages and pings until done is closed or a write
// fails
func writeLoop(conn wsWriter, out <-chan any, ping <-chan time.Time, done <-chan struct{}) error {
	for {
		select {
		case v := <-out:
			if err := conn.WriteJSON(v); err != nil {
				return err
			}
		case <-ping:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}

type client struct {
	conn *websocket.Conn
	out  chan any
	done chan struct{}
}

// hub fans run notifications out to dashboard tabs. A slow tab drops
// messages rather than blocking the refresher.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- v:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *hub) serveWS(greeting func() []any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		cl := &client{conn: conn, out: make(chan any, 64), done: make(chan struct{})}
		for _, m := range greeting() {
			cl.out <- m
		}
		h.mu.Lock()
		h.clients[cl] = struct{}{}
		h.mu.Unlock()

		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			if err := writeLoop(conn, cl.out, ping.C, cl.done); err != nil {
				// unblocks the reader below
				conn.Close()
			}
		}()

		// reader: only pongs and close frames matter
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		close(cl.done)
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
	}
}
