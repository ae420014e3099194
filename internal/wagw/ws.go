package wagw

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
)

// WebSocket streams inbound chat events from the gateway. A single message
// handler and a single state handler are wired before Connect; when the link
// drops the read loop redials with exponential backoff from redialBase.
type WebSocket struct {
	wsURL string

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     WebSocketState
	redialing bool

	onMessage MessageCallback
	onState   StateCallback

	maxRedials   int
	redialBase   time.Duration
	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// optional: inject headers at handshake (e.g. Authorization)
	headerProvider HeaderProvider
}

func NewWebSocket(wsURL string, maxRedials int, redialBase time.Duration) *WebSocket {
	if redialBase <= 0 {
		redialBase = time.Second
	}
	return &WebSocket{
		wsURL:        wsURL,
		state:        WSStateDisconnected,
		maxRedials:   maxRedials,
		redialBase:   redialBase,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// OnMessage sets the inbound message handler. Wire it before Connect.
func (ws *WebSocket) OnMessage(cb MessageCallback) {
	ws.mu.Lock()
	ws.onMessage = cb
	ws.mu.Unlock()
}

// OnStateChange sets the connection state handler. Wire it before Connect.
func (ws *WebSocket) OnStateChange(cb StateCallback) {
	ws.mu.Lock()
	ws.onState = cb
	ws.mu.Unlock()
}

// SetHeaderProvider allows injecting headers into the WS handshake.
func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) {
	ws.headerProvider = h
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == WSStateConnected || ws.state == WSStateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.mu.Unlock()

	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())
	ws.setState(WSStateConnecting)

	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(WSStateFailed)
		ws.scheduleRedial()
		return err
	}
	ws.adopt(conn)
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	return conn, err
}

// adopt installs a freshly dialed connection and starts its loops.
func (ws *WebSocket) adopt(conn *websocket.Conn) {
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.setState(WSStateConnected)

	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
}

// snapshot returns the current connection and state together, so egress
// writers never observe one without the other while a redial swaps them.
func (ws *WebSocket) snapshot() (*websocket.Conn, WebSocketState) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.conn, ws.state
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.stopCh:
			return
		default:
		}

		var msg Message
		if err := wsjson.Read(ws.rootCtx, conn, &msg); err != nil {
			if ws.isStopping() {
				return
			}
			obslog.L().Warn("ws_read_error", zap.Error(err))
			ws.dropConn(conn)
			ws.scheduleRedial()
			return
		}

		ws.mu.RLock()
		cb := ws.onMessage
		ws.mu.RUnlock()
		if cb != nil {
			cb(&msg)
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures < 2 {
				continue
			}
			if ws.isStopping() {
				return
			}
			obslog.L().Warn("ws_ping_failure", zap.Error(err))
			ws.dropConn(conn)
			ws.scheduleRedial()
			return
		}
	}
}

// dropConn closes and clears the given connection. A connection that was
// already replaced by a redial is only closed, never cleared.
func (ws *WebSocket) dropConn(conn *websocket.Conn) {
	ws.setState(WSStateDisconnected)
	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	ws.mu.Lock()
	if ws.conn == conn {
		ws.conn = nil
	}
	ws.mu.Unlock()
}

// scheduleRedial starts at most one redial loop. The listen and ping loops of
// a dying connection can both report the drop; the redialing flag collapses
// that into a single loop.
func (ws *WebSocket) scheduleRedial() {
	if ws.maxRedials <= 0 {
		return
	}
	ws.mu.Lock()
	if ws.redialing {
		ws.mu.Unlock()
		return
	}
	ws.redialing = true
	ws.mu.Unlock()
	ws.setState(WSStateReconnecting)

	go func() {
		defer func() {
			ws.mu.Lock()
			ws.redialing = false
			ws.mu.Unlock()
		}()
		for attempt := 1; attempt <= ws.maxRedials; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(ws.redialDelay(attempt)):
			}

			conn, err := ws.dial(ws.rootCtx)
			if err != nil {
				obslog.L().Warn("ws_redial_error", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			obslog.L().Info("ws_redial_ok", zap.Int("attempt", attempt))
			ws.adopt(conn)
			return
		}
		obslog.L().Error("ws_redial_exhausted", zap.Int("attempts", ws.maxRedials))
		ws.setState(WSStateFailed)
	}()
}

// redialDelay doubles from the base per attempt, capped at 32x.
func (ws *WebSocket) redialDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return ws.redialBase << uint(attempt-1)
}

func (ws *WebSocket) setState(state WebSocketState) {
	ws.mu.Lock()
	ws.state = state
	cb := ws.onState
	ws.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if ws.rootCancel != nil {
			ws.rootCancel()
		}
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
