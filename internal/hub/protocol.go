package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// The hub speaks the JSON hub protocol: every message is a JSON object
// terminated by the record separator, and a transport frame may carry
// several records or part of one.
const recordSeparator = 0x1e

// Message types used by this client.  Streaming types (2, 4 and 5) are never
// requested, so the server does not send them.
const (
	messageInvocation = 1
	messageCompletion = 3
	messagePing       = 6
	messageClose      = 7
)

var handshakeRequest = []byte("{\"protocol\":\"json\",\"version\":1}\x1e")

var pingRecord = []byte("{\"type\":6}\x1e")

// Invocation is a named event pushed by the server.  Seq orders it against
// every other invocation and completion received on the Conn.
type Invocation struct {
	Seq       uint64
	Target    string
	Arguments []json.RawMessage
}

// Completion acknowledges an invoked command.  Seq is the position at which
// the acknowledgement was received: every push with a lower Seq arrived
// before it.
type Completion struct {
	Seq    uint64
	Result json.RawMessage
}

type message struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type invocationMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

func encodeInvocation(invocationID string, target string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(invocationMessage{
		Type:         messageInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

func decodeMessage(record []byte) (*message, error) {
	var m message
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == 0 {
		return nil, errors.New("decode message: missing type")
	}
	return &m, nil
}

func decodeHandshake(record []byte) error {
	var r handshakeResponse
	if err := json.Unmarshal(record, &r); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if r.Error != "" {
		return fmt.Errorf("handshake rejected: %s", r.Error)
	}
	return nil
}

// recordReader reassembles records from transport frames.
type recordReader struct {
	buf []byte
}

// Feed appends a frame and returns every record it completes.
func (r *recordReader) Feed(frame []byte) [][]byte {
	r.buf = append(r.buf, frame...)
	var records [][]byte
	for {
		i := bytes.IndexByte(r.buf, recordSeparator)
		if i < 0 {
			break
		}
		if 0 < i {
			records = append(records, bytes.Clone(r.buf[:i]))
		}
		r.buf = r.buf[i+1:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return records
}
