package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfall/boardhost/internal/conn"
	"github.com/inkfall/boardhost/internal/wire"
)

// fakeUsers is a minimal UserLookup backed by net.Pipe-connected Users, so
// session fan-out can be observed on the peer end of each pipe.
type fakeUsers struct {
	byID map[uint8]*User
	recv map[uint8]chan wire.Message
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[uint8]*User), recv: make(map[uint8]chan wire.Message)}
}

func (f *fakeUsers) Lookup(id uint8) (*User, bool) {
	u, ok := f.byID[id]
	return u, ok
}

// add registers a new User id wired to an in-process net.Pipe connection;
// decoded frames sent to it land on the returned channel.
func (f *fakeUsers) add(t *testing.T, id uint8) chan wire.Message {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	ch := make(chan wire.Message, 64)
	c := conn.New(server, conn.DefaultBackpressureHigh, func([]wire.Message) {}, nil)
	c.Start()
	t.Cleanup(c.Close)

	go func() {
		var pending []byte
		buf := make([]byte, 4096)
		for {
			n, err := client.Read(buf)
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
					ch <- m
				}
				pending = pending[res.Consumed:]
			}
		}
	}()

	u := NewUser(id, c)
	_ = u.SetState(StateLoginAuth)
	_ = u.SetState(StateActive)
	f.byID[id] = u
	f.recv[id] = ch
	return ch
}

func newTestSession(t *testing.T, users *fakeUsers, maxUsers uint8) *Session {
	t.Helper()
	s := New(1, "room", 1, 800, 600, maxUsers, users, NewRasterCache(0), nil)
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestSubscribeTwiceIsNoop(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	require.NoError(t, s.Subscribe(1, ""))
	assert.Equal(t, 1, s.SubscriberCount())
}

func TestSubscribeRejectsPastUserLimit(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1)
	users.add(t, 2)
	s := newTestSession(t, users, 1)

	require.NoError(t, s.Subscribe(1, ""))
	err := s.Subscribe(2, "")
	assert.ErrorIs(t, err, ErrUserLimit)
}

func TestSubscribeRequiresPasswordWhenSet(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1)
	s := newTestSession(t, users, 10)
	s.PasswordHash = "secret"
	prevChecker := passwordOK
	t.Cleanup(func() { passwordOK = prevChecker })
	passwordOK = func(hash, plain string) bool { return hash == plain }

	err := s.Subscribe(1, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	err = s.Subscribe(1, "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)

	require.NoError(t, s.Subscribe(1, "secret"))
}

func TestFirstSubscriberSkipsSync(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	assert.True(t, s.IsSubscribed(1))
}

// TestSecondSubscriberSyncsFromFirst exercises the election -> Synchronize
// -> Raster relay -> completion path end to end.
func TestSecondSubscriberSyncsFromFirst(t *testing.T) {
	users := newFakeUsers()
	ch1 := users.add(t, 1)
	ch2 := users.add(t, 2)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	require.NoError(t, s.Subscribe(2, ""))

	select {
	case m := <-ch1:
		_, ok := m.(*wire.Synchronize)
		require.True(t, ok, "expected Synchronize sent to elected source")
	case <-time.After(2 * time.Second):
		t.Fatal("source never received Synchronize")
	}

	data := []byte("rasterbytes")
	require.NoError(t, s.ProvideRasterChunk(1, &wire.Raster{
		Offset: 0, Length: uint32(len(data)), Size: uint32(len(data)), Data: data,
	}))

	select {
	case m := <-ch2:
		r, ok := m.(*wire.Raster)
		require.True(t, ok)
		assert.Equal(t, data, r.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("joiner never received raster chunk")
	}
}

// TestBackpressureEvictsBeforeNextPeer validates spec's ordering guarantee:
// a subscriber overflowing its outbox is evicted before the event reaches
// the next peer in ascending id order.
func TestBackpressureEvictsBeforeNextPeer(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1) // sender, and sync source for every later joiner
	users.add(t, 2) // slow subscriber, never drained below
	ch3 := users.add(t, 3)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	subscribeAndCompleteSync(t, s, 2)
	subscribeAndCompleteSync(t, s, 3)

	slow, _ := users.Lookup(2)
	for i := 0; i < 10000 && !slow.Conn.Overflowing(); i++ {
		_ = slow.Conn.Enqueue(&wire.Chat{Text: "pad pad pad pad pad pad pad pad"})
	}
	require.True(t, slow.Conn.Overflowing())

	require.NoError(t, s.HandleEvent(1, &wire.StrokeEnd{}))

	assert.False(t, s.IsSubscribed(2), "slow subscriber should have been evicted")
	assert.True(t, s.IsSubscribed(3))

	select {
	case <-ch3:
	case <-time.After(2 * time.Second):
		t.Fatal("peer 3 never received the fanned-out event")
	}
}

func TestCancelRevertsJoinerToActive(t *testing.T) {
	users := newFakeUsers()
	ch1 := users.add(t, 1)
	ch2 := users.add(t, 2)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	require.NoError(t, s.Subscribe(2, ""))

	select {
	case m := <-ch1:
		_, ok := m.(*wire.Synchronize)
		require.True(t, ok, "expected Synchronize sent to elected source")
	case <-time.After(2 * time.Second):
		t.Fatal("source never got Synchronize")
	}

	s.Cancel(1)

	u2, _ := users.Lookup(2)
	assert.Equal(t, StateActive, u2.State())
	assert.False(t, s.IsSubscribed(2))

	select {
	case m := <-ch2:
		e, ok := m.(*wire.Error)
		require.True(t, ok)
		assert.Equal(t, wire.ReasonSyncCancelled, e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("joiner never received Error{SyncCancelled}")
	}
}

func TestSyncWaitBarrierNotifiesInitiatorAfterAllAcks(t *testing.T) {
	users := newFakeUsers()
	chInit := users.add(t, 1)
	users.add(t, 2)
	users.add(t, 3)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	require.NoError(t, s.Subscribe(2, ""))
	require.NoError(t, s.Subscribe(3, ""))
	// Drain the Synchronize/election traffic triggered by the joins above so
	// it doesn't show up as a false-positive Acknowledgement read below.
	drainFor(users.recv[2], 200*time.Millisecond)
	drainFor(users.recv[3], 200*time.Millisecond)
	drainFor(chInit, 200*time.Millisecond)

	s.SyncWait(1)
	s.Acknowledge(2, wire.AckSyncWait)

	select {
	case <-chInit:
		t.Fatal("initiator notified before every subscriber acked")
	case <-time.After(100 * time.Millisecond):
	}

	s.Acknowledge(3, wire.AckSyncWait)

	select {
	case m := <-chInit:
		ack, ok := m.(*wire.Acknowledgement)
		require.True(t, ok)
		assert.Equal(t, wire.AckSyncWait, ack.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("initiator never notified after all acks")
	}
}

// subscribeAndCompleteSync subscribes userID (always electing user 1 as the
// sync source in these tests) and immediately feeds a one-chunk raster to
// bring the joiner to SubActive.
func subscribeAndCompleteSync(t *testing.T, s *Session, userID uint8) {
	t.Helper()
	require.NoError(t, s.Subscribe(userID, ""))
	data := []byte("raster")
	require.NoError(t, s.ProvideRasterChunk(1, &wire.Raster{
		Offset: 0, Length: uint32(len(data)), Size: uint32(len(data)), Data: data,
	}))
}

// TestSourceDisconnectReelectsFromWaitlist exercises reelectOrFail: the
// elected sync source disconnects while other joiners are still mid-sync,
// and an already-active subscriber takes over as the new source.
func TestSourceDisconnectReelectsFromWaitlist(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1) // initial source, about to disconnect mid-sync
	ch4 := users.add(t, 4)
	users.add(t, 2)
	users.add(t, 3)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	subscribeAndCompleteSync(t, s, 4) // user 4 reaches SubActive via user 1
	drainFor(ch4, 200*time.Millisecond)

	require.NoError(t, s.Subscribe(2, "")) // elects user 1 again, joins waitlist
	require.NoError(t, s.Subscribe(3, "")) // same sync already in progress, joins waitlist too

	s.Unsubscribe(1) // source disconnects with 2 and 3 still on the waitlist

	select {
	case m := <-ch4:
		_, ok := m.(*wire.Synchronize)
		require.True(t, ok, "expected the re-elected source to receive a fresh Synchronize")
	case <-time.After(2 * time.Second):
		t.Fatal("re-elected source never received Synchronize")
	}

	assert.True(t, s.IsSubscribed(2), "waitlisted joiner should survive re-election")
	assert.True(t, s.IsSubscribed(3), "waitlisted joiner should survive re-election")
}

// TestSourceDisconnectFailsSyncWhenNoCandidateRemains covers the other half
// of reelectOrFail: no other subscriber is ACTIVE, so electSyncSource falls
// through to failSyncLocked and every waitlisted joiner is dropped with
// Error{NoSyncSource} instead of being re-synced.
func TestSourceDisconnectFailsSyncWhenNoCandidateRemains(t *testing.T) {
	users := newFakeUsers()
	users.add(t, 1) // sole source
	ch2 := users.add(t, 2)
	s := newTestSession(t, users, 10)

	require.NoError(t, s.Subscribe(1, ""))
	require.NoError(t, s.Subscribe(2, "")) // elects user 1, joins waitlist

	s.Unsubscribe(1) // source disconnects with no other ACTIVE subscriber to re-elect

	select {
	case m := <-ch2:
		e, ok := m.(*wire.Error)
		require.True(t, ok)
		assert.Equal(t, wire.ReasonNoSyncSource, e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("waitlisted joiner never received Error{NoSyncSource}")
	}

	assert.False(t, s.IsSubscribed(2), "joiner with no sync candidate left should be dropped from the session")
}

func drainFor(ch chan wire.Message, d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case <-ch:
		case <-deadline:
			return
		}
	}
}
