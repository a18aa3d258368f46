package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// envelope is the relay wire format. Data carries the sealed frame and rides
// as base64 through JSON.
type envelope struct {
	From string `json:"from"`
	Hop  byte   `json:"hop"`
	Data []byte `json:"data,omitempty"`
}

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

// Bridge tunnels mesh frames over a websocket relay. It surfaces link loss
// through OnStateChange and stays down until Connect is called again.
type Bridge struct {
	url      string
	deviceID string
	log      *zap.Logger

	conn   *websocket.Conn
	state  State
	stateM sync.RWMutex

	cbs callbacks

	pingInterval time.Duration
	writeM       sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewBridge(url, deviceID string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		url:          url,
		deviceID:     deviceID,
		log:          logger,
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (b *Bridge) Connect(ctx context.Context) error {
	if b.isStopping() {
		return ErrClosed
	}
	b.stateM.Lock()
	if b.state == StateConnected || b.state == StateConnecting {
		b.stateM.Unlock()
		return nil
	}
	b.stateM.Unlock()

	b.rootCtx, b.rootCancel = context.WithCancel(context.Background())
	b.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, b.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		b.setState(StateDisconnected)
		return err
	}
	conn.SetReadLimit(1 << 20)

	b.conn = conn
	b.setState(StateConnected)

	// Identify ourselves to the relay before any traffic.
	if err := b.write(&envelope{From: b.deviceID}); err != nil {
		_ = b.closeConn(websocket.StatusGoingAway, "hello failed")
		b.setState(StateDisconnected)
		return err
	}

	b.wg.Add(2)
	go b.listen()
	go b.pingLoop()
	return nil
}

func (b *Bridge) SendFrame(frame []byte, hopLimit byte) error {
	b.stateM.RLock()
	connected := b.state == StateConnected && b.conn != nil
	b.stateM.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	return b.write(&envelope{From: b.deviceID, Hop: hopLimit, Data: frame})
}

func (b *Bridge) write(env *envelope) error {
	// wsjson.Write is not safe for concurrent writers.
	b.writeM.Lock()
	defer b.writeM.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(b.rootCtx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, b.conn, env)
}

func (b *Bridge) listen() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		if b.conn == nil {
			return
		}
		var env envelope
		if err := wsjson.Read(b.rootCtx, b.conn, &env); err != nil {
			if b.isStopping() {
				return
			}
			b.log.Warn("bridge_read_error", zap.Error(err))
			_ = b.closeConn(websocket.StatusGoingAway, "read failure")
			b.setState(StateDisconnected)
			return
		}
		if env.From == "" || env.From == b.deviceID || len(env.Data) == 0 {
			continue
		}
		b.cbs.emitFrame(env.Data, env.From)
	}
}

func (b *Bridge) pingLoop() {
	defer b.wg.Done()
	t := time.NewTicker(b.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-b.stopCh:
			return
		case <-t.C:
			if b.conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(b.rootCtx, 3*time.Second)
			err := b.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures < 2 {
				continue
			}
			if b.isStopping() {
				return
			}
			b.log.Warn("bridge_ping_failure", zap.Error(err))
			_ = b.closeConn(websocket.StatusGoingAway, "ping failure")
			b.setState(StateDisconnected)
			return
		}
	}
}

func (b *Bridge) OnFrame(cb FrameHandler) int       { return b.cbs.onFrame(cb) }
func (b *Bridge) RemoveFrameHandler(id int)         { b.cbs.removeFrame(id) }
func (b *Bridge) OnStateChange(cb StateHandler) int { return b.cbs.onState(cb) }
func (b *Bridge) RemoveStateHandler(id int)         { b.cbs.removeState(id) }

func (b *Bridge) setState(s State) {
	b.stateM.Lock()
	changed := b.state != s
	b.state = s
	b.stateM.Unlock()
	if changed {
		b.cbs.emitState(s)
	}
}

func (b *Bridge) Close(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	_ = b.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if b.rootCancel != nil {
			b.rootCancel()
		}
		b.setState(StateClosed)
		return nil
	}
}

func (b *Bridge) closeConn(code websocket.StatusCode, reason string) error {
	b.writeM.Lock()
	defer b.writeM.Unlock()
	if b.conn == nil {
		return nil
	}
	defer func() { b.conn = nil }()
	return b.conn.Close(code, reason)
}

func (b *Bridge) isStopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}
