// Package hub is the real-time connection to the host layout hub.
//
// A Conn owns one logical connection: it negotiates a transport, performs
// the protocol handshake, delivers pushed invocations in arrival order,
// resolves invoked commands, and reconnects on unexpected transport loss
// following a fixed delay schedule.
package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/floor-sync/internal/feed"
)

type Settings struct {
	Transports        []TransportKind
	ReconnectDelays   []time.Duration
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	WriteTimeout      time.Duration
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	// AccessToken is called before every negotiation so a refreshed token
	// is picked up on reconnect.
	AccessToken func() string
}

func DefaultSettings() *Settings {
	return &Settings{
		Transports:        []TransportKind{WebSockets, LongPolling},
		ReconnectDelays:   []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second},
		HandshakeTimeout:  15 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		ServerTimeout:     30 * time.Second,
		WriteTimeout:      5 * time.Second,
		HTTPClient:        defaultHTTPClient(),
		Dialer:            websocket.DefaultDialer,
	}
}

// the client has no overall timeout because long polls are held open by
// the server; every request carries a context instead
func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{
		Transport: transport,
	}
}

type completion struct {
	seq    uint64
	result json.RawMessage
	err    error
}

// session is an established transport plus any records that arrived
// together with the handshake response.
type session struct {
	transport Transport
	reader    *recordReader
	records   [][]byte
}

type Conn struct {
	url      string
	settings *Settings

	mutex      sync.Mutex
	state      ConnectionState
	transport  Transport
	epoch      uint64
	pending    map[string]chan completion
	sessionCtx context.Context
	cancel     context.CancelFunc

	seq         atomic.Uint64
	states      *feed.Feed[ConnectionState]
	invocations *feed.Queue[Invocation]
}

func NewConn(url string, settings *Settings) *Conn {
	if settings == nil {
		settings = DefaultSettings()
	}
	if settings.HTTPClient == nil {
		settings.HTTPClient = defaultHTTPClient()
	}
	if settings.Dialer == nil {
		settings.Dialer = websocket.DefaultDialer
	}
	if len(settings.Transports) == 0 {
		settings.Transports = []TransportKind{WebSockets, LongPolling}
	}
	defaults := DefaultSettings()
	if settings.HandshakeTimeout <= 0 {
		settings.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if settings.ServerTimeout <= 0 {
		settings.ServerTimeout = defaults.ServerTimeout
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = defaults.WriteTimeout
	}
	return &Conn{
		url:         url,
		settings:    settings,
		state:       Disconnected,
		pending:     map[string]chan completion{},
		states:      feed.NewFeedWithValue(Disconnected),
		invocations: feed.NewQueue[Invocation](),
	}
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) State() ConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// SubscribeState delivers every state transition.  The current state is
// delivered first.
func (c *Conn) SubscribeState() (<-chan ConnectionState, func()) {
	return c.states.Subscribe()
}

// Invocations is the single ordered stream of pushed server events.  It
// spans reconnects and is closed by Close.
func (c *Conn) Invocations() <-chan Invocation {
	return c.invocations.Out()
}

// LastSeq is the sequence number of the latest received invocation or
// completion.
func (c *Conn) LastSeq() uint64 {
	return c.seq.Load()
}

// Connect establishes the connection.  It is a no-op unless the connection
// is Disconnected.  On failure the state returns to Disconnected and a
// *ConnectionError is returned.
func (c *Conn) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.state != Disconnected {
		c.mutex.Unlock()
		return nil
	}
	sessionCtx, cancel := context.WithCancel(context.Background())
	c.sessionCtx = sessionCtx
	c.cancel = cancel
	c.setStateLocked(Connecting)
	c.mutex.Unlock()

	s, err := c.start(ctx, sessionCtx)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sessionCtx.Err() != nil {
		// disconnected while connecting
		if s != nil {
			s.transport.Close()
		}
		if err == nil {
			err = context.Canceled
		}
		return &ConnectionError{URL: c.url, Err: err}
	}
	if err != nil {
		cancel()
		c.setStateLocked(Disconnected)
		glog.Infof("[hub]connect %s error = %s\n", c.url, err)
		return &ConnectionError{URL: c.url, Err: err}
	}
	c.attachLocked(sessionCtx, s)
	c.setStateLocked(Connected)
	glog.Infof("[hub]connected %s\n", c.url)
	return nil
}

// Disconnect closes the connection and stops any reconnect attempts.  It
// never fails; close errors are logged.
func (c *Conn) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			glog.V(1).Infof("[hub]close transport error = %s\n", err)
		}
		c.transport = nil
	}
	c.epoch += 1
	c.failPendingLocked(ErrConnectionLost)
	if c.state != Disconnected {
		glog.Infof("[hub]disconnected %s\n", c.url)
	}
	c.setStateLocked(Disconnected)
}

// Close disconnects and ends the Invocations and state streams.
func (c *Conn) Close() {
	c.Disconnect()
	c.invocations.Close()
	c.states.Close()
}

// Invoke sends a command and waits for its completion.  It fails fast with
// ErrNotConnected when the connection is not Connected.
func (c *Conn) Invoke(ctx context.Context, target string, args ...any) (*Completion, error) {
	c.mutex.Lock()
	if c.state != Connected || c.transport == nil {
		c.mutex.Unlock()
		return nil, &InvokeError{Target: target, Err: ErrNotConnected}
	}
	transport := c.transport
	invocationID := ulid.Make().String()
	done := make(chan completion, 1)
	c.pending[invocationID] = done
	c.mutex.Unlock()

	forget := func() {
		c.mutex.Lock()
		delete(c.pending, invocationID)
		c.mutex.Unlock()
	}

	payload, err := encodeInvocation(invocationID, target, args)
	if err != nil {
		forget()
		return nil, &InvokeError{Target: target, Err: err}
	}
	if err := transport.Send(ctx, payload); err != nil {
		forget()
		return nil, &InvokeError{Target: target, Err: err}
	}
	glog.V(2).Infof("[hub]invoke %s(%s)->\n", target, invocationID)

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &InvokeError{Target: target, Err: r.err}
		}
		return &Completion{Seq: r.seq, Result: r.result}, nil
	case <-ctx.Done():
		forget()
		return nil, &InvokeError{Target: target, Err: ctx.Err()}
	}
}

func (c *Conn) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	glog.V(1).Infof("[hub]state %s -> %s\n", c.state, state)
	c.state = state
	c.states.Publish(state)
}

func (c *Conn) failPendingLocked(err error) {
	for id, done := range c.pending {
		done <- completion{err: err}
		delete(c.pending, id)
	}
}

// start negotiates, opens the transport, and completes the handshake.  ctx
// bounds the setup; the transport itself lives until sessionCtx ends.  When
// the negotiated transport cannot be opened the hub is negotiated again
// without it, so a refused socket upgrade falls back to polling.
func (c *Conn) start(ctx context.Context, sessionCtx context.Context) (*session, error) {
	setupCtx, cancel := context.WithTimeout(ctx, c.settings.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, cancel)
	defer stop()

	token := ""
	if c.settings.AccessToken != nil {
		token = c.settings.AccessToken()
	}
	preferred := c.settings.Transports
	var lastErr error
	for {
		e, err := negotiate(setupCtx, c.settings.HTTPClient, c.url, token, preferred)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		s, err := c.open(setupCtx, e)
		if err == nil {
			return s, nil
		}
		if setupCtx.Err() != nil {
			return nil, err
		}
		glog.Infof("[hub]%s failed = %s\n", e.kind, err)
		lastErr = err
		preferred = transportsAfter(preferred, e.kind)
		if len(preferred) == 0 {
			return nil, lastErr
		}
	}
}

// transportsAfter returns the kinds that follow kind in preferred.
func transportsAfter(preferred []TransportKind, kind TransportKind) []TransportKind {
	for i, k := range preferred {
		if k == kind {
			return preferred[i+1:]
		}
	}
	return nil
}

// open connects the negotiated transport and completes the handshake.
func (c *Conn) open(setupCtx context.Context, e *endpoint) (*session, error) {
	var err error
	var transport Transport
	switch e.kind {
	case WebSockets:
		transport, err = dialWebsocket(setupCtx, c.settings.Dialer, e, c.settings.WriteTimeout, c.settings.ServerTimeout)
		if err != nil {
			return nil, err
		}
	default:
		transport = newLongPollingTransport(c.settings.HTTPClient, e)
	}

	success := false
	defer func() {
		if !success {
			transport.Close()
		}
	}()

	if err := transport.Send(setupCtx, handshakeRequest); err != nil {
		return nil, err
	}
	reader := &recordReader{}
	var records [][]byte
	for len(records) == 0 {
		frame, err := transport.Receive(setupCtx)
		if err != nil {
			return nil, err
		}
		records = reader.Feed(frame)
	}
	if err := decodeHandshake(records[0]); err != nil {
		return nil, err
	}

	success = true
	glog.V(1).Infof("[hub]handshake complete over %s\n", e.kind)
	return &session{
		transport: transport,
		reader:    reader,
		records:   records[1:],
	}, nil
}

func (c *Conn) attachLocked(sessionCtx context.Context, s *session) {
	c.epoch += 1
	c.transport = s.transport
	epoch := c.epoch
	go c.readLoop(sessionCtx, epoch, s)
	if 0 < c.settings.KeepAliveInterval {
		go c.keepAlive(sessionCtx, epoch, s.transport)
	}
}

func (c *Conn) readLoop(ctx context.Context, epoch uint64, s *session) {
	for _, record := range s.records {
		if !c.handleRecord(epoch, record) {
			return
		}
	}
	for {
		frame, err := s.transport.Receive(ctx)
		if err != nil {
			c.lost(epoch, err, true)
			return
		}
		for _, record := range s.reader.Feed(frame) {
			if !c.handleRecord(epoch, record) {
				return
			}
		}
	}
}

// handleRecord returns false when the read loop must stop.
func (c *Conn) handleRecord(epoch uint64, record []byte) bool {
	m, err := decodeMessage(record)
	if err != nil {
		glog.Warningf("[hub]drop undecodable record = %s\n", err)
		return true
	}
	switch m.Type {
	case messageInvocation:
		if m.InvocationID != "" {
			glog.Warningf("[hub]server invocation %s expects a result; not supported\n", m.Target)
		}
		seq := c.seq.Add(1)
		glog.V(2).Infof("[hub]<-%s seq=%d\n", m.Target, seq)
		c.invocations.Push(Invocation{
			Seq:       seq,
			Target:    m.Target,
			Arguments: m.Arguments,
		})
	case messageCompletion:
		seq := c.seq.Add(1)
		var err error
		if m.Error != "" {
			err = &ServerError{Message: m.Error}
		}
		c.mutex.Lock()
		if done, ok := c.pending[m.InvocationID]; ok && epoch == c.epoch {
			delete(c.pending, m.InvocationID)
			done <- completion{seq: seq, result: m.Result, err: err}
		}
		c.mutex.Unlock()
	case messagePing:
	case messageClose:
		var err error = ErrConnectionLost
		if m.Error != "" {
			err = &ServerError{Message: m.Error}
		}
		glog.Infof("[hub]server closed connection (allowReconnect=%t) = %s\n", m.AllowReconnect, err)
		c.lost(epoch, err, m.AllowReconnect)
		return false
	default:
		glog.V(2).Infof("[hub]ignore message type %d\n", m.Type)
	}
	return true
}

func (c *Conn) keepAlive(ctx context.Context, epoch uint64, transport Transport) {
	ticker := time.NewTicker(c.settings.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mutex.Lock()
			current := epoch == c.epoch
			c.mutex.Unlock()
			if !current {
				return
			}
			if err := transport.Send(ctx, pingRecord); err != nil {
				c.lost(epoch, err, true)
				return
			}
		}
	}
}

// lost handles the end of the transport identified by epoch.  Losses of a
// replaced or deliberately closed transport are ignored.
func (c *Conn) lost(epoch uint64, err error, allowReconnect bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if epoch != c.epoch || c.transport == nil {
		return
	}
	c.transport.Close()
	c.transport = nil
	c.failPendingLocked(ErrConnectionLost)
	if c.state == Disconnected {
		return
	}
	glog.Infof("[hub]transport lost %s = %s\n", c.url, err)

	if !allowReconnect || len(c.settings.ReconnectDelays) == 0 {
		c.cancel()
		c.setStateLocked(Disconnected)
		return
	}
	c.setStateLocked(Reconnecting)
	go c.reconnect(c.sessionCtx)
}

func (c *Conn) reconnect(sessionCtx context.Context) {
	for i, delay := range c.settings.ReconnectDelays {
		if 0 < delay {
			select {
			case <-sessionCtx.Done():
				return
			case <-time.After(delay):
			}
		}
		if sessionCtx.Err() != nil {
			return
		}

		s, err := c.start(sessionCtx, sessionCtx)

		c.mutex.Lock()
		if sessionCtx.Err() != nil {
			c.mutex.Unlock()
			if s != nil {
				s.transport.Close()
			}
			return
		}
		if err == nil {
			c.attachLocked(sessionCtx, s)
			c.setStateLocked(Connected)
			c.mutex.Unlock()
			glog.Infof("[hub]reconnected %s after %d attempt(s)\n", c.url, i+1)
			return
		}
		c.mutex.Unlock()
		glog.Infof("[hub]reconnect attempt %d error = %s\n", i+1, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if sessionCtx.Err() == nil {
		glog.Infof("[hub]giving up reconnect %s\n", c.url)
		c.cancel()
		c.setStateLocked(Disconnected)
	}
}
