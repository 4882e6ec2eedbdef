package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport moves raw frames to and from the hub.  Send may be called from
// several goroutines; Receive is called by one reader at a time.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type websocketTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	writeMutex sync.Mutex
	closeOnce  sync.Once
}

func dialWebsocket(
	ctx context.Context,
	dialer *websocket.Dialer,
	e *endpoint,
	writeTimeout time.Duration,
	readTimeout time.Duration,
) (*websocketTransport, error) {
	wsURL, err := websocketURL(e.url)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if e.accessToken != "" {
		header.Set("Authorization", "Bearer "+e.accessToken)
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	return &websocketTransport{
		ws:           ws,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
	}, nil
}

func (t *websocketTransport) Send(ctx context.Context, data []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.ws.SetWriteDeadline(deadline)
	// note that for websocket a deadline timeout cannot be recovered
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next text frame.  Silence longer than the read
// timeout is reported as an error, which the Conn treats as transport loss.
func (t *websocketTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		deadline := time.Now().Add(t.readTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		t.ws.SetReadDeadline(deadline)
		messageType, data, err := t.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (t *websocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMutex.Lock()
		t.ws.SetWriteDeadline(time.Now().Add(time.Second))
		t.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMutex.Unlock()
		err = t.ws.Close()
	})
	return err
}
