package netsync

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBufSize    = 256

	binaryMarker byte = 0xFF

	defaultLatency = 100 * time.Millisecond
	maxLatency     = 10 * time.Second

	unreachableNoticeWindow = 10 * time.Second
)

// inboundRouter dispatches raw wire messages arriving on any path
type inboundRouter interface {
	HandleText(raw []byte)
	HandleBinary(raw []byte)
}

// TransportSession owns the wire connection: connect and reconnect,
// keep-alive, latency probing, and the fallback into offline mode when the
// server is unreachable. Connection failures never surface as errors to the
// caller; they degrade to status changes.
type TransportSession struct {
	ctx     *SyncContext
	offline *OfflineFallbackChannel
	router  inboundRouter

	sessionKey string

	// At most one "unreachable" notice per window
	unreachableNote *rate.Limiter

	mu          sync.Mutex
	conn        *websocket.Conn
	send        chan []byte
	attempts    int
	closing     bool
	dialing     bool
	cancels     []CancelFunc
	retryCancel CancelFunc

	pingNonce  string
	pingSentAt time.Time
}

// NewTransportSession creates the transport. It does not connect.
func NewTransportSession(ctx *SyncContext, offline *OfflineFallbackChannel, router inboundRouter, sessionKey string) *TransportSession {
	return &TransportSession{
		ctx:             ctx,
		offline:         offline,
		router:          router,
		sessionKey:      sessionKey,
		unreachableNote: rate.NewLimiter(rate.Every(unreachableNoticeWindow), 1),
	}
}

// Connect initiates a connection attempt. It never returns an error: an
// unreachable server lands the session in offline mode, signalled through a
// connection event.
func (t *TransportSession) Connect() {
	status := t.ctx.Status()
	if status == StatusConnecting || status == StatusConnected {
		return
	}
	t.mu.Lock()
	if t.dialing {
		t.mu.Unlock()
		return
	}
	t.dialing = true
	t.closing = false
	t.attempts = 0
	t.mu.Unlock()

	t.ctx.setStatus(StatusConnecting, 0, nil)
	go t.dial()
}

// reconnect is the internal retry entry point; it keeps the attempt counter
func (t *TransportSession) reconnect() {
	status := t.ctx.Status()
	if status == StatusConnecting || status == StatusConnected {
		return
	}
	t.mu.Lock()
	if t.dialing {
		t.mu.Unlock()
		return
	}
	t.dialing = true
	attempt := t.attempts
	t.mu.Unlock()
	t.ctx.setStatus(StatusConnecting, attempt, nil)
	go t.dial()
}

func (t *TransportSession) dial() {
	defer func() {
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
	}()

	if err := t.probe(); err != nil {
		t.enterOffline(err)
		return
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.ctx.cfg.DialTimeout}
	conn, _, err := dialer.Dial(t.ctx.cfg.ServerURL, nil)
	if err != nil {
		t.enterOffline(err)
		return
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.send = make(chan []byte, sendBufSize)
	t.attempts = 0
	send := t.send
	t.mu.Unlock()

	t.ctx.setStatus(StatusConnected, 0, nil)

	go t.writePump(conn, send)
	go t.readPump(conn)
	t.startTimers()
	t.sendAuth()
}

// probe issues a bounded-latency liveness check against the HTTP side of
// the endpoint before committing to a websocket dial
func (t *TransportSession) probe() error {
	u, err := url.Parse(t.ctx.cfg.ServerURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/"

	client := http.Client{Timeout: t.ctx.cfg.ProbeTimeout}
	resp, err := client.Get(u.String())
	if err != nil {
		// Any HTTP response at all proves reachability; only transport
		// errors count as failure
		return err
	}
	resp.Body.Close()
	return nil
}

// enterOffline degrades to offline mode and schedules a single retry
func (t *TransportSession) enterOffline(cause error) {
	if t.unreachableNote.Allow() {
		t.ctx.log.Warnf("server unreachable, switching to offline mode: %v", cause)
	}
	t.ctx.setStatus(StatusOffline, 0, cause)
	t.scheduleRetry(t.ctx.cfg.OfflineRetryInterval)
}

// Disconnect deterministically tears down all timers and the connection.
// Idempotent.
func (t *TransportSession) Disconnect() {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.conn = nil
	if t.send != nil {
		close(t.send)
		t.send = nil
	}
	t.mu.Unlock()

	t.stopTimers()
	if conn != nil {
		conn.Close()
	}
	if t.ctx.Status() != StatusDisconnected {
		t.ctx.setStatus(StatusDisconnected, 0, nil)
	}
}

// Send routes a raw wire message: over the socket when connected, over the
// offline broadcast channel in offline mode, and a logged drop otherwise
func (t *TransportSession) Send(raw []byte) {
	switch status := t.ctx.Status(); status {
	case StatusConnected:
		t.sendRaw(raw)
	case StatusOffline:
		if err := t.offline.Broadcast(raw); err != nil {
			t.ctx.log.Warnf("offline broadcast failed: %v", err)
		}
	default:
		t.ctx.log.Warnf("send while %s, message dropped", status)
	}
}

// SendJSON wraps data in an Envelope and sends it
func (t *TransportSession) SendJSON(msgType string, data interface{}) {
	raw, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		t.ctx.log.Errorf("marshal %s: %v", msgType, err)
		return
	}
	t.Send(raw)
}

// SendEvent implements eventSink
func (t *TransportSession) SendEvent(msg GameEventMsg) {
	t.SendJSON(MsgGameEvent, msg)
}

// SendUpdate implements stateSink. Connected updates go as msgpack binary
// frames; offline mode falls back to the JSON broadcast path.
func (t *TransportSession) SendUpdate(msg PlayerUpdateMsg) {
	switch t.ctx.Status() {
	case StatusConnected:
		data, err := msgpack.Marshal(msg)
		if err != nil {
			t.ctx.log.Errorf("marshal player_update: %v", err)
			return
		}
		framed := make([]byte, len(data)+1)
		framed[0] = binaryMarker
		copy(framed[1:], data)
		t.sendRaw(framed)
	case StatusOffline:
		raw, err := json.Marshal(Envelope{Type: MsgPlayerUpdate, Data: msg})
		if err != nil {
			return
		}
		t.offline.Broadcast(raw)
	}
}

// sendRaw queues bytes for the write pump, dropping when the buffer is full
func (t *TransportSession) sendRaw(raw []byte) {
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()
	if send == nil {
		return
	}
	defer func() { recover() }()
	select {
	case send <- raw:
	default:
		// Pump too slow, drop message
	}
}

// readPump reads messages from the connection until it fails
func (t *TransportSession) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.ctx.log.Debugf("ws read: %v", err)
			}
			t.handleClosed(conn, err)
			return
		}

		// Any inbound message is a liveness signal
		if t.ctx.Status() == StatusDisconnected {
			t.ctx.setStatus(StatusConnected, 0, nil)
		}

		if msgType == websocket.BinaryMessage {
			t.router.HandleBinary(raw)
		} else {
			t.router.HandleText(raw)
		}
	}
}

// writePump drains the send channel onto the connection
func (t *TransportSession) writePump(conn *websocket.Conn, send chan []byte) {
	defer conn.Close()
	for {
		message, ok := <-send
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		var err error
		if len(message) > 0 && message[0] == binaryMarker {
			err = conn.WriteMessage(websocket.BinaryMessage, message[1:])
		} else {
			err = conn.WriteMessage(websocket.TextMessage, message)
		}
		if err != nil {
			return
		}
	}
}

// handleClosed tears down after an unexpected close and schedules a retry
func (t *TransportSession) handleClosed(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		// Already torn down by Disconnect or replaced
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.send != nil {
		close(t.send)
		t.send = nil
	}
	closing := t.closing
	t.mu.Unlock()

	t.stopTimers()
	conn.Close()
	if closing {
		return
	}

	t.mu.Lock()
	t.attempts++
	attempt := t.attempts
	maxAttempts := t.ctx.cfg.MaxReconnectAttempts
	t.mu.Unlock()

	t.ctx.setStatus(StatusDisconnected, attempt, cause)
	if attempt > maxAttempts {
		t.ctx.log.Warnf("reconnect attempts exhausted, waiting for explicit connect")
		return
	}
	t.ctx.log.Infof("connection lost, retry %d/%d in %s", attempt, maxAttempts, t.ctx.cfg.ReconnectInterval)
	t.scheduleRetry(t.ctx.cfg.ReconnectInterval)
}

// startTimers begins the keep-alive and latency probe cycles
func (t *TransportSession) startTimers() {
	t.addCancel(t.ctx.sched.Every(t.ctx.cfg.KeepaliveInterval, t.sendKeepalive))
	t.addCancel(t.ctx.sched.Every(t.ctx.cfg.PingInterval, t.sendPing))
}

func (t *TransportSession) addCancel(c CancelFunc) {
	t.mu.Lock()
	t.cancels = append(t.cancels, c)
	t.mu.Unlock()
}

// scheduleRetry arms the single retry timer, replacing any pending one so
// repeated offline retries do not pile up cancel handles
func (t *TransportSession) scheduleRetry(d time.Duration) {
	c := t.ctx.sched.After(d, t.reconnect)
	t.mu.Lock()
	prev := t.retryCancel
	t.retryCancel = c
	t.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (t *TransportSession) stopTimers() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = nil
	if t.retryCancel != nil {
		cancels = append(cancels, t.retryCancel)
		t.retryCancel = nil
	}
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// sendAuth opens the handshake. A session key turns the plain auth into a
// join of the keyed session.
func (t *TransportSession) sendAuth() {
	msgType := MsgAuth
	if t.sessionKey != "" {
		msgType = MsgJoinSession
	}
	t.SendJSON(msgType, AuthMsg{
		PlayerName: t.ctx.cfg.PlayerName,
		SessionKey: t.sessionKey,
	})
}

func (t *TransportSession) sendKeepalive() {
	if t.ctx.Status() != StatusConnected {
		return
	}
	t.SendJSON(MsgKeepalive, KeepaliveMsg{Timestamp: time.Now().UnixMilli()})
}

// sendPing issues the latency probe. An unanswered previous probe falls
// back to the default latency estimate instead of reporting stale data.
func (t *TransportSession) sendPing() {
	if t.ctx.Status() != StatusConnected {
		return
	}
	t.mu.Lock()
	if t.pingNonce != "" {
		t.ctx.setLatency(defaultLatency)
	}
	t.pingNonce = GenerateID(4)
	t.pingSentAt = time.Now()
	nonce := t.pingNonce
	sentAt := t.pingSentAt
	t.mu.Unlock()

	t.SendJSON(MsgPing, PingMsg{Nonce: nonce, SentAt: sentAt.UnixMilli()})
}

// HandlePong resolves a latency probe reply
func (t *TransportSession) HandlePong(msg PingMsg) {
	t.mu.Lock()
	if msg.Nonce != t.pingNonce {
		t.mu.Unlock()
		return
	}
	rtt := time.Since(t.pingSentAt)
	t.pingNonce = ""
	t.mu.Unlock()

	half := rtt / 2
	if half <= 0 || half > maxLatency {
		half = defaultLatency
	}
	t.ctx.setLatency(half)
}
