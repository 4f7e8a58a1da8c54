package host

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfall/boardhost/internal/auth"
	"github.com/inkfall/boardhost/internal/wire"
)

// testClient drives one end of a net.Pipe as a scripted boardhost client:
// Send encodes+writes, Recv decodes frames arriving from the host.
type testClient struct {
	t    *testing.T
	conn net.Conn
	in   chan wire.Message
}

func newTestClient(t *testing.T, h *Host) *testClient {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	require.NoError(t, h.Accept(server))

	tc := &testClient{t: t, conn: client, in: make(chan wire.Message, 64)}
	go tc.readLoop()
	return tc
}

func (tc *testClient) readLoop() {
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := tc.conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			res, err := wire.Decode(pending)
			if err != nil {
				break
			}
			for _, m := range res.Messages {
				tc.in <- m
			}
			pending = pending[res.Consumed:]
		}
	}
}

func (tc *testClient) send(m wire.Message) {
	tc.t.Helper()
	buf, err := wire.Encode(m)
	require.NoError(tc.t, err)
	_, err = tc.conn.Write(buf)
	require.NoError(tc.t, err)
}

func (tc *testClient) expect(d time.Duration) wire.Message {
	tc.t.Helper()
	select {
	case m := <-tc.in:
		return m
	case <-time.After(d):
		tc.t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (tc *testClient) login(t *testing.T, rev uint32) {
	tc.send(&wire.Identifier{Revision: rev})
	hi := tc.expect(2 * time.Second)
	_, ok := hi.(*wire.HostInfo)
	require.True(t, ok)
	tc.send(&wire.Password{})
	join := tc.expect(2 * time.Second)
	_, ok = join.(*wire.UserInfo)
	require.True(t, ok)
}

func newTestHost() *Host {
	return New(Config{
		MaxUsersTotal:    16,
		MaxSessionsTotal: 16,
		BackpressureHigh: 64 << 10,
		RasterCacheTTL:   0,
	}, nil)
}

func TestTwoClientStrokeRelay(t *testing.T) {
	h := newTestHost()
	a := newTestClient(t, h)
	b := newTestClient(t, h)
	a.login(t, ProtocolRevision)
	b.login(t, ProtocolRevision)

	// a, already Active when b completes login, observes b's join broadcast.
	_ = a.expect(2 * time.Second)

	a.send(&wire.Instruction{Sub: wire.InstructionCreateSession, Width: 800, Height: 600, Title: "room"})
	// a receives its own SessionInfo broadcast (sent to every logged-in user).
	si := a.expect(2 * time.Second)
	info, ok := si.(*wire.SessionInfo)
	require.True(t, ok)
	assert.Equal(t, "room", info.Title)
	_ = b.expect(2 * time.Second) // b sees the same broadcast

	b.send(&wire.Subscribe{Header: wire.Header{HasSession: true, SessionID: info.SessionID}})

	// b is the board's second subscriber, so it must raster-sync against a
	// (the only ACTIVE subscriber, hence the elected source) before it will
	// receive live drawing events. b stays in SYNC until the raster is
	// complete, so its SessionSelect is sent only after that.
	sync := a.expect(2 * time.Second)
	_, ok = sync.(*wire.Synchronize)
	require.True(t, ok)
	raster := []byte("blank canvas")
	a.send(&wire.Raster{
		Header: wire.Header{HasSession: true, SessionID: info.SessionID},
		Offset: 0, Length: uint32(len(raster)), Size: uint32(len(raster)), Data: raster,
	})
	synced := b.expect(2 * time.Second)
	_, ok = synced.(*wire.Raster)
	require.True(t, ok)
	b.send(&wire.SessionSelect{Header: wire.Header{HasSession: true, SessionID: info.SessionID}})

	a.send(&wire.StrokeInfo{Header: wire.Header{HasSession: true, SessionID: info.SessionID}, X: 10, Y: 20, Pressure: 255})

	got := b.expect(2 * time.Second)
	stroke, ok := got.(*wire.StrokeInfo)
	require.True(t, ok)
	assert.EqualValues(t, 10, stroke.X)
	assert.EqualValues(t, 20, stroke.Y)
}

func TestBadHostPasswordClosesConnection(t *testing.T) {
	hash, err := auth.HashPassword("right")
	require.NoError(t, err)

	h := New(Config{
		MaxUsersTotal:    4,
		MaxSessionsTotal: 4,
		BackpressureHigh: 64 << 10,
		PasswordHash:     hash,
	}, nil)

	a := newTestClient(t, h)
	a.send(&wire.Identifier{Revision: ProtocolRevision})
	_ = a.expect(2 * time.Second)
	a.send(&wire.Password{Password: "wrong"})

	errMsg := a.expect(2 * time.Second)
	e, ok := errMsg.(*wire.Error)
	require.True(t, ok)
	assert.Equal(t, wire.ReasonBadPassword, e.Reason)
}
