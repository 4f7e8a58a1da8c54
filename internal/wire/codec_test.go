package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	buf, err := Encode(m)
	require.NoError(t, err)
	res, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	require.Equal(t, len(buf), res.Consumed)
	return res.Messages[0]
}

func TestRoundTripEveryType(t *testing.T) {
	cases := []Message{
		&Identifier{Header: Header{UserID: 1}, Revision: 9, Level: 0, Flags: 0, Extensions: 0},
		&HostInfo{Header: Header{UserID: 0}, UsersOnline: 2, UsersMax: 8, Title: "my host"},
		&UserInfo{Header: Header{UserID: 3}, Event: UserLeft, Name: "alice"},
		&SessionInfo{Header: Header{UserID: 0}, Title: "t", Width: 640, Height: 480, MaxUsers: 8},
		&StrokeInfo{Header: Header{UserID: 5, HasSession: true, SessionID: 1}, X: 10, Y: 20, Pressure: 128},
		&StrokeEnd{Header: Header{UserID: 5}},
		&ToolInfo{Header: Header{UserID: 5}, ToolID: 1, Mode: 2, LoColor: 0xff0000ff, HiColor: 0x00ff00ff},
		&Authentication{Header: Header{UserID: 1}, Secret: []byte("shared-secret")},
		&Password{Header: Header{UserID: 1}, Password: "hunter2"},
		&Synchronize{Header: Header{UserID: 2, HasSession: true, SessionID: 1}},
		&Raster{Header: Header{UserID: 2}, Offset: 0, Length: 3, Size: 3, Data: []byte{1, 2, 3}},
		&SyncWait{Header: Header{UserID: 1}},
		&Subscribe{Header: Header{UserID: 1, HasSession: true, SessionID: 1}, Password: "pw"},
		&Unsubscribe{Header: Header{UserID: 1, HasSession: true, SessionID: 1}},
		&SessionSelect{Header: Header{UserID: 1, HasSession: true, SessionID: 1}},
		&Instruction{Header: Header{UserID: 1}, Sub: InstructionCreateSession, Title: "t", Width: 640, Height: 480, MaxUsers: 8},
		&ListSessions{Header: Header{UserID: 1}},
		&Cancel{Header: Header{UserID: 1}},
		&Acknowledgement{Header: Header{UserID: 0}, Kind: AckSyncWait},
		&Error{Header: Header{UserID: 0}, Reason: ReasonBadPassword, Detail: "nope"},
		&SessionEvent{Header: Header{UserID: 0, HasSession: true, SessionID: 1}, Kind: SessionEnded},
		&LayerEvent{Header: Header{UserID: 1}, Kind: 0, LayerID: 2, Title: "bg"},
		&LayerSelect{Header: Header{UserID: 1}, LayerID: 2},
		&Chat{Header: Header{UserID: 1}, Text: "hello"},
		&Palette{Header: Header{UserID: 1}, Colors: []uint32{0xff0000ff, 0x00ff00ff}},
	}

	for _, m := range cases {
		got := roundTrip(t, m)
		assert.Equal(t, m, got, "round trip for %T", m)
	}
}

func TestDecodeNeedMore(t *testing.T) {
	full, err := Encode(&StrokeInfo{Header: Header{UserID: 1}, X: 1, Y: 2, Pressure: 3})
	require.NoError(t, err)

	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		require.Error(t, err)
		_, ok := err.(*NeedMoreError)
		assert.Truef(t, ok, "expected NeedMoreError at prefix length %d, got %T", n, err)
	}
}

func TestDecodeMalformedBadType(t *testing.T) {
	_, err := Decode([]byte{0xFE, 0, 0})
	require.Error(t, err)
	_, ok := err.(*MalformedError)
	assert.True(t, ok)
}

func TestDecodeMalformedBulkOnIneligibleType(t *testing.T) {
	_, err := Decode([]byte{uint8(TypeChat), 0, flagBulk})
	require.Error(t, err)
	_, ok := err.(*MalformedError)
	assert.True(t, ok)
}

func TestBulkStrokeInfoDecodesToMultipleMessages(t *testing.T) {
	msgs := []Message{
		&StrokeInfo{Header: Header{UserID: 7}, X: 1, Y: 1, Pressure: 10},
		&StrokeInfo{Header: Header{UserID: 7}, X: 2, Y: 2, Pressure: 20},
		&StrokeInfo{Header: Header{UserID: 7}, X: 3, Y: 3, Pressure: 30},
	}
	buf, err := EncodeBulk(msgs)
	require.NoError(t, err)

	res, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)
	require.Equal(t, len(buf), res.Consumed)
	for i, m := range res.Messages {
		si, ok := m.(*StrokeInfo)
		require.True(t, ok)
		assert.Equal(t, uint8(7), si.UserID)
		assert.Equal(t, msgs[i].(*StrokeInfo).X, si.X)
	}
}

func TestEncodeBulkSingleMessageOmitsBulkFlag(t *testing.T) {
	buf, err := EncodeBulk([]Message{&StrokeInfo{Header: Header{UserID: 1}, X: 1, Y: 1, Pressure: 1}})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), buf[2]&flagBulk)
}

func TestZeroLengthRasterRoundTrips(t *testing.T) {
	got := roundTrip(t, &Raster{Header: Header{UserID: 1}, Offset: 10, Length: 0, Size: 10, Data: nil})
	r := got.(*Raster)
	assert.Equal(t, uint32(0), r.Length)
	assert.True(t, r.Offset+r.Length == r.Size)
}

func TestDeflateRoundTrip(t *testing.T) {
	inner := []Message{
		&Chat{Header: Header{UserID: 1}, Text: "hi"},
		&StrokeInfo{Header: Header{UserID: 1}, X: 1, Y: 2, Pressure: 3},
	}
	d, err := EncodeDeflate(Header{UserID: 1}, inner)
	require.NoError(t, err)

	got := roundTrip(t, d)
	out, err := DecodeDeflate(got.(*Deflate))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, inner[0], out[0])
	assert.Equal(t, inner[1], out[1])
}
