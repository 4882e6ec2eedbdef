package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReader(t *testing.T) {
	r := &recordReader{}
	assert.Empty(t, r.Feed([]byte(`{"type":6}`)))
	records := r.Feed([]byte("\x1e{\"type\":1,\"target\":\"A\"}\x1e{\"ty"))
	require.Len(t, records, 2)
	assert.Equal(t, `{"type":6}`, string(records[0]))
	assert.Equal(t, `{"type":1,"target":"A"}`, string(records[1]))

	records = r.Feed([]byte("pe\":6}\x1e\x1e"))
	require.Len(t, records, 1)
	assert.Equal(t, `{"type":6}`, string(records[0]))
}

func TestEncodeInvocation(t *testing.T) {
	b, err := encodeInvocation("id-1", "JoinSpaceGroup", []any{int64(7)})
	require.NoError(t, err)
	require.Equal(t, byte(recordSeparator), b[len(b)-1])
	assert.JSONEq(t, `{"type":1,"invocationId":"id-1","target":"JoinSpaceGroup","arguments":[7]}`, string(b[:len(b)-1]))

	b, err = encodeInvocation("id-2", "TestConnection", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":1,"invocationId":"id-2","target":"TestConnection","arguments":[]}`, string(b[:len(b)-1]))
}

func TestDecodeMessage(t *testing.T) {
	m, err := decodeMessage([]byte(`{"type":3,"invocationId":"x","error":"nope"}`))
	require.NoError(t, err)
	assert.Equal(t, messageCompletion, m.Type)
	assert.Equal(t, "nope", m.Error)

	_, err = decodeMessage([]byte(`{"target":"A"}`))
	assert.Error(t, err)
	_, err = decodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	assert.NoError(t, decodeHandshake([]byte(`{}`)))
	assert.ErrorContains(t, decodeHandshake([]byte(`{"error":"unsupported protocol"}`)), "unsupported protocol")
}

func TestPickTransport(t *testing.T) {
	available := []availableTransport{
		{Transport: "ServerSentEvents", TransferFormats: []string{"Text"}},
		{Transport: "LongPolling", TransferFormats: []string{"Text", "Binary"}},
		{Transport: "WebSockets", TransferFormats: []string{"Binary"}},
	}
	kind, ok := pickTransport([]TransportKind{WebSockets, LongPolling}, available)
	assert.True(t, ok)
	assert.Equal(t, LongPolling, kind)

	_, ok = pickTransport([]TransportKind{WebSockets}, available)
	assert.False(t, ok)

	assert.Equal(t, []TransportKind{LongPolling}, transportsAfter([]TransportKind{WebSockets, LongPolling}, WebSockets))
	assert.Empty(t, transportsAfter([]TransportKind{WebSockets, LongPolling}, LongPolling))

	assert.Equal(t, []TransportKind{LongPolling, WebSockets}, ParseTransportKinds([]string{"LongPolling", " WebSockets", "ServerSentEvents"}))
}

func TestURLHelpers(t *testing.T) {
	u, err := withPath("https://host:44341/HostLayoutHub/", "negotiate")
	require.NoError(t, err)
	assert.Equal(t, "https://host:44341/HostLayoutHub/negotiate", u)

	u, err = withQuery("https://host/hub?tenant=a", "id", "tok en")
	require.NoError(t, err)
	assert.Equal(t, "https://host/hub?id=tok+en&tenant=a", u)

	u, err = websocketURL("https://host/hub?id=x")
	require.NoError(t, err)
	assert.Equal(t, "wss://host/hub?id=x", u)
}
