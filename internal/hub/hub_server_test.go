package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type invoked struct {
	Target    string
	Arguments []json.RawMessage
}

// testHub is a scripted hub: it negotiates, completes the handshake, answers
// every invocation, and lets tests push events or drop connections.
type testHub struct {
	t      *testing.T
	server *httptest.Server

	mutex           sync.Mutex
	transports      []string
	negotiateStatus int
	rejectUpgrades  bool
	negotiations    int
	authorizations  []string
	invocations     []invoked
	sockets         []*testSocket
	polls           map[string]*testPoll
	// reply decides the completion for an invocation: a result or an error
	reply func(target string) (any, string)
}

type testSocket struct {
	ws    *websocket.Conn
	mutex sync.Mutex
}

func (s *testSocket) write(data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

type testPoll struct {
	mutex  sync.Mutex
	out    []byte
	signal chan struct{}
	closed bool
}

func newTestHub(t *testing.T) *testHub {
	h := &testHub{
		t:               t,
		transports:      []string{"WebSockets"},
		negotiateStatus: http.StatusOK,
		polls:           map[string]*testPoll{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", h.handleNegotiate)
	mux.HandleFunc("/hub", h.handleHub)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *testHub) URL() string {
	return h.server.URL + "/hub"
}

func (h *testHub) setNegotiateStatus(status int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.negotiateStatus = status
}

func (h *testHub) negotiationCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.negotiations
}

func (h *testHub) invoked() []invoked {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	out := make([]invoked, len(h.invocations))
	copy(out, h.invocations)
	return out
}

func (h *testHub) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	h.negotiations += 1
	status := h.negotiateStatus
	h.authorizations = append(h.authorizations, r.Header.Get("Authorization"))
	available := []availableTransport{}
	for _, name := range h.transports {
		available = append(available, availableTransport{Transport: name, TransferFormats: []string{"Text", "Binary"}})
	}
	token := fmt.Sprintf("token-%d", h.negotiations)
	h.mutex.Unlock()

	if r.Method != http.MethodPost || r.URL.Query().Get("negotiateVersion") != "1" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	json.NewEncoder(w).Encode(negotiateResponse{
		ConnectionID:        "conn-" + token,
		ConnectionToken:     token,
		NegotiateVersion:    1,
		AvailableTransports: available,
	})
}

func (h *testHub) handleHub(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	reject := h.rejectUpgrades
	h.mutex.Unlock()
	if websocket.IsWebSocketUpgrade(r) {
		if reject {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h.serveSocket(w, r)
		return
	}
	h.servePoll(w, r)
}

// respond handles one client record and returns the reply records.
func (h *testHub) respond(record []byte) []byte {
	if bytes.Contains(record, []byte(`"protocol"`)) {
		return []byte("{}\x1e")
	}
	m, err := decodeMessage(record)
	if err != nil || m.Type != messageInvocation {
		return nil
	}
	h.mutex.Lock()
	h.invocations = append(h.invocations, invoked{Target: m.Target, Arguments: m.Arguments})
	reply := h.reply
	h.mutex.Unlock()

	var result any
	errText := ""
	if reply != nil {
		result, errText = reply(m.Target)
	}
	out := map[string]any{"type": messageCompletion, "invocationId": m.InvocationID}
	if errText != "" {
		out["error"] = errText
	} else if result != nil {
		out["result"] = result
	}
	b, _ := json.Marshal(out)
	return append(b, recordSeparator)
}

func (h *testHub) serveSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	socket := &testSocket{ws: ws}
	h.mutex.Lock()
	h.sockets = append(h.sockets, socket)
	h.mutex.Unlock()

	reader := &recordReader{}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range reader.Feed(data) {
			if out := h.respond(record); out != nil {
				if err := socket.write(out); err != nil {
					return
				}
			}
		}
	}
}

func (h *testHub) poll(id string) *testPoll {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	p, ok := h.polls[id]
	if !ok {
		p = &testPoll{signal: make(chan struct{}, 1)}
		h.polls[id] = p
	}
	return p
}

func (p *testPoll) enqueue(data []byte) {
	p.mutex.Lock()
	p.out = append(p.out, data...)
	p.mutex.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (h *testHub) servePoll(w http.ResponseWriter, r *http.Request) {
	p := h.poll(r.URL.Query().Get("id"))
	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		reader := &recordReader{}
		for _, record := range reader.Feed(body) {
			if out := h.respond(record); out != nil {
				p.enqueue(out)
			}
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		deadline := time.After(200 * time.Millisecond)
		for {
			p.mutex.Lock()
			if p.closed {
				p.mutex.Unlock()
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if 0 < len(p.out) {
				out := p.out
				p.out = nil
				p.mutex.Unlock()
				w.WriteHeader(http.StatusOK)
				w.Write(out)
				return
			}
			p.mutex.Unlock()
			select {
			case <-p.signal:
			case <-deadline:
				w.WriteHeader(http.StatusOK)
				return
			case <-r.Context().Done():
				return
			}
		}
	case http.MethodDelete:
		p.mutex.Lock()
		p.closed = true
		p.mutex.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func invocationRecord(target string, args ...any) []byte {
	b, _ := json.Marshal(map[string]any{"type": messageInvocation, "target": target, "arguments": args})
	return append(b, recordSeparator)
}

// push sends an invocation to the most recent socket, or to every poll.
func (h *testHub) push(target string, args ...any) {
	h.pushRaw(invocationRecord(target, args...))
}

func (h *testHub) pushRaw(data []byte) {
	h.mutex.Lock()
	var socket *testSocket
	if 0 < len(h.sockets) {
		socket = h.sockets[len(h.sockets)-1]
	}
	polls := []*testPoll{}
	for _, p := range h.polls {
		polls = append(polls, p)
	}
	h.mutex.Unlock()

	if socket != nil {
		if err := socket.write(data); err != nil {
			h.t.Logf("push error = %s", err)
		}
		return
	}
	for _, p := range polls {
		p.enqueue(data)
	}
}

// dropSockets closes every server side socket without a close message.
func (h *testHub) dropSockets() {
	h.mutex.Lock()
	sockets := h.sockets
	h.sockets = nil
	h.mutex.Unlock()
	for _, s := range sockets {
		s.ws.Close()
	}
}

func (h *testHub) lastAuthorization() string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(h.authorizations) == 0 {
		return ""
	}
	return h.authorizations[len(h.authorizations)-1]
}

func argumentStrings(args []json.RawMessage) string {
	parts := []string{}
	for _, a := range args {
		parts = append(parts, string(a))
	}
	return strings.Join(parts, ",")
}
