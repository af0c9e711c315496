package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vborovik/oddskeeper/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second

	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// WSFeed subscribes to a streaming feed endpoint and keeps the most recent
// record per match URL. Fetch returns the current set, so the monitor's
// batch-oriented cycle works unchanged on top of a push feed. Reconnects with
// exponential backoff on disconnect.
type WSFeed struct {
	name  string
	wsURL string

	mu      sync.Mutex
	conn    *websocket.Conn
	latest  map[string]domain.Snapshot
	started bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a streaming snapshot source for the given WebSocket URL.
func NewWSFeed(name, wsURL string) *WSFeed {
	return &WSFeed{
		name:   name,
		wsURL:  wsURL,
		latest: make(map[string]domain.Snapshot),
		done:   make(chan struct{}),
	}
}

// Name identifies this source in logs and presence keys.
func (f *WSFeed) Name() string { return f.name }

// Fetch starts the streaming connection on first call, then returns the
// latest record per match. Records flagged finished are returned once and
// dropped from the working set.
func (f *WSFeed) Fetch(ctx context.Context) ([]domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		if err := f.connectLocked(ctx); err != nil {
			return nil, err
		}
		f.started = true
	}

	batch := make([]domain.Snapshot, 0, len(f.latest))
	for url, snap := range f.latest {
		batch = append(batch, snap)
		if snap.Finished {
			delete(f.latest, url)
		}
	}
	return batch, nil
}

// Close shuts the feed down. Safe to call more than once.
func (f *WSFeed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// connectLocked dials the endpoint and starts the read and ping loops.
// Caller must hold f.mu.
func (f *WSFeed) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("source: ws connect %s: %w", f.name, err)
	}
	f.conn = conn

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go f.readLoop(conn)
	go f.pingLoop(conn)
	return nil
}

func (f *WSFeed) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.reconnect()
			return
		}

		f.handleMessage(message)
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage accepts either a single match record or an array of records.
// Records without identity fields are dropped.
func (f *WSFeed) handleMessage(raw []byte) {
	var records []feedMatch
	if err := json.Unmarshal(raw, &records); err != nil {
		var one feedMatch
		if err := json.Unmarshal(raw, &one); err != nil {
			return
		}
		records = []feedMatch{one}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range records {
		snap := records[i].toDomain()
		if !snap.Valid() || snap.MatchURL == "" {
			continue
		}
		f.latest[snap.MatchURL] = snap
	}
}

// reconnect re-dials with exponential backoff until success or shutdown.
func (f *WSFeed) reconnect() {
	delay := wsReconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		f.mu.Lock()
		err := f.connectLocked(ctx)
		f.mu.Unlock()
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
