package hub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const longPollingCloseTimeout = 5 * time.Second

// longPollingTransport is the fallback when a full-duplex socket is not
// offered: frames are received with repeated GET polls and sent with POSTs
// against the same connection url.
type longPollingTransport struct {
	client      *http.Client
	url         string
	accessToken string

	ctx    context.Context
	cancel context.CancelFunc
}

func newLongPollingTransport(client *http.Client, e *endpoint) *longPollingTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &longPollingTransport{
		client:      client,
		url:         e.url,
		accessToken: e.accessToken,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (t *longPollingTransport) request(ctx context.Context, method string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	if t.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.accessToken)
	}
	return req, nil
}

// merge returns a context canceled when either ctx or the transport ends.
func (t *longPollingTransport) merge(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func (t *longPollingTransport) Send(ctx context.Context, data []byte) error {
	sendCtx, cancel := t.merge(ctx)
	defer cancel()

	req, err := t.request(sendCtx, http.MethodPost, data)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("long polling send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive polls until the server returns data.  A 204 means the server
// closed the connection.
func (t *longPollingTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		data, err := t.poll(ctx)
		if err != nil {
			return nil, err
		}
		if 0 < len(data) {
			return data, nil
		}
	}
}

func (t *longPollingTransport) poll(ctx context.Context) ([]byte, error) {
	pollCtx, cancel := t.merge(ctx)
	defer cancel()

	req, err := t.request(pollCtx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNoContent:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("long polling receive: unexpected status %d", resp.StatusCode)
	}
}

func (t *longPollingTransport) Close() error {
	if t.ctx.Err() != nil {
		return nil
	}
	t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), longPollingCloseTimeout)
	defer cancel()
	req, err := t.request(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		glog.V(1).Infof("[hub]long polling delete error = %s\n", err)
		return err
	}
	resp.Body.Close()
	return nil
}
