package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfall/boardhost/internal/wire"
)

func TestReadPumpDecodesInboundFrame(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	received := make(chan wire.Message, 8)
	sc := New(server, DefaultBackpressureHigh, func(msgs []wire.Message) {
		for _, m := range msgs {
			received <- m
		}
	}, nil)
	sc.Start()
	defer sc.Close()

	go func() {
		buf, err := wire.Encode(&wire.Chat{Header: wire.Header{UserID: 1}, Text: "hi"})
		require.NoError(t, err)
		_, err = client.Write(buf)
		require.NoError(t, err)
	}()

	select {
	case m := <-received:
		chat, ok := m.(*wire.Chat)
		require.True(t, ok)
		assert.Equal(t, "hi", chat.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded message")
	}
}

func TestBackpressureMarksOverflowing(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := New(server, 16, func([]wire.Message) {}, nil)
	sc.Start()
	defer sc.Close()

	// Nobody reads from the client side, so writes queue up in the outbox
	// and the 16-byte threshold is exceeded quickly.
	for i := 0; i < 50 && !sc.Overflowing(); i++ {
		_ = sc.Enqueue(&wire.Chat{Header: wire.Header{UserID: 1}, Text: "spam spam spam"})
	}
	assert.True(t, sc.Overflowing())
}

func TestDrainClosesAfterFlush(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				close(done)
				return
			}
		}
	}()

	sc := New(server, DefaultBackpressureHigh, func([]wire.Message) {}, nil)
	sc.Start()
	require.NoError(t, sc.Enqueue(&wire.StrokeEnd{Header: wire.Header{UserID: 1}}))
	sc.Drain()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed after draining")
	}
	assert.Equal(t, StateClosed, sc.State())
}
