package transport

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The Conn is driven over an in-memory pipe: the test plays the client
// with gobwas's client-side helpers, no HTTP upgrade involved.

func pipeConn() (*Conn, net.Conn) {
	server, client := net.Pipe()
	return NewConn(1, server), client
}

func TestConnRecvReadsClientFrames(t *testing.T) {
	conn, client := pipeConn()
	defer conn.Close()

	go func() {
		_ = wsutil.WriteClientBinary(client, []byte("hello"))
	}()

	data, err := conn.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestConnRecvTreatsTextAsData(t *testing.T) {
	conn, client := pipeConn()
	defer conn.Close()

	go func() {
		_ = wsutil.WriteClientText(client, []byte(`{"seq":1}`))
	}()

	data, err := conn.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"seq":1}`), data)
}

func TestConnSendWritesServerFrames(t *testing.T) {
	conn, client := pipeConn()
	defer conn.Close()

	done := make(chan []byte, 1)
	go func() {
		data, _, err := wsutil.ReadServerData(client)
		if err == nil {
			done <- data
		}
	}()

	require.NoError(t, conn.Send([]byte("state")))

	select {
	case data := <-done:
		assert.Equal(t, []byte("state"), data)
	case <-time.After(time.Second):
		t.Fatal("client did not receive frame")
	}
}

func TestConnRecvTimeout(t *testing.T) {
	conn, client := pipeConn()
	defer conn.Close()
	defer client.Close()

	_, err := conn.Recv(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestConnRecvFailsAfterPeerClose(t *testing.T) {
	conn, client := pipeConn()
	defer conn.Close()

	require.NoError(t, client.Close())

	_, err := conn.Recv(time.Second)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
}
