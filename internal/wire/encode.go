package wire

// magic is the fixed 8-byte Identifier preamble.
var magic = [8]byte{'D', 'R', 'A', 'W', 'P', 'I', 'L', 'E'}

// maxBlobLen bounds any u32-length-prefixed field so a corrupt or hostile
// peer cannot force an unbounded allocation while the decoder waits for
// bytes that will never arrive.
const maxBlobLen = 32 << 20

// Encode serializes a single message (never as part of a bulk run) into a
// fresh byte slice.
func Encode(m Message) ([]byte, error) {
	w := &writer{}
	h := m.Head()
	w.u8(uint8(m.Type()))
	w.u8(h.UserID)
	w.u8(h.flags())
	if h.HasSession {
		w.u8(h.SessionID)
	}
	if err := encodePayload(w, m); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// EncodeBulk serializes a run of StrokeInfo messages (or any future
// bulk-eligible type) sharing one header into a single chain-linked frame.
// All messages must share the same Type, UserID, SessionID/HasSession.
func EncodeBulk(msgs []Message) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, malformed("EncodeBulk requires at least one message")
	}
	t := msgs[0].Type()
	if !bulkEligible(t) {
		return nil, malformed("type is not bulk-eligible: " + t.String())
	}
	h := msgs[0].Head()
	h.Bulk = len(msgs) > 1
	for _, m := range msgs[1:] {
		if m.Type() != t || !baseEqual(stripBulk(m.Head()), stripBulk(h)) {
			return nil, malformed("bulk run must share type and header")
		}
	}
	if !h.Bulk {
		return Encode(msgs[0])
	}

	w := &writer{}
	w.u8(uint8(t))
	w.u8(h.UserID)
	w.u8(h.flags())
	if h.HasSession {
		w.u8(h.SessionID)
	}
	w.u16(uint16(len(msgs)))
	for _, m := range msgs {
		if err := encodePayload(w, m); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

func stripBulk(h Header) Header { h.Bulk = false; return h }

func encodePayload(w *writer, m Message) error {
	switch v := m.(type) {
	case *Identifier:
		w.bytes(magic[:])
		w.u32(v.Revision)
		w.u32(v.Level)
		w.u8(v.Flags)
		w.u8(v.Extensions)
	case *HostInfo:
		w.u8(v.UsersOnline)
		w.u8(v.UsersMax)
		w.u8(v.SessionsOnline)
		w.u8(v.SessionsMax)
		w.u8(v.ReqFlags)
		w.u8(v.ExtFlags)
		w.str(v.Title)
	case *UserInfo:
		w.u8(uint8(v.Event))
		w.str(v.Reason)
		w.str(v.Name)
	case *SessionInfo:
		w.str(v.Title)
		w.u16(v.Width)
		w.u16(v.Height)
		w.u8(v.ModeFlags)
		w.u8(v.MaxUsers)
		w.u8(v.SubscriberCount)
	case *StrokeInfo:
		w.u16(v.X)
		w.u16(v.Y)
		w.u8(v.Pressure)
	case *StrokeEnd:
		// empty payload
	case *ToolInfo:
		w.u8(v.ToolID)
		w.u8(v.Mode)
		w.u32(v.LoColor)
		w.u32(v.HiColor)
		w.u8(v.LoSize)
		w.u8(v.HiSize)
		w.u8(v.LoHardness)
		w.u8(v.HiHardness)
		w.u8(v.Spacing)
	case *Authentication:
		w.blob(v.Secret)
	case *Password:
		w.str(v.Password)
	case *Synchronize:
		// empty payload
	case *Raster:
		w.u32(v.Offset)
		w.u32(v.Length)
		w.u32(v.Size)
		w.bytes(v.Data)
	case *SyncWait:
		// empty payload
	case *Subscribe:
		w.str(v.Password)
	case *Unsubscribe:
		// empty payload
	case *SessionSelect:
		// empty payload
	case *Instruction:
		w.u8(uint8(v.Sub))
		w.u8(v.TargetUserID)
		w.u16(v.Width)
		w.u16(v.Height)
		w.u8(v.MaxUsers)
		w.str(v.Title)
		w.str(v.Password)
		w.str(v.Message)
	case *ListSessions:
		// empty payload
	case *Cancel:
		// empty payload
	case *Acknowledgement:
		w.u8(uint8(v.Kind))
	case *Error:
		w.u8(uint8(v.Reason))
		w.str(v.Detail)
	case *SessionEvent:
		w.u8(uint8(v.Kind))
		w.str(v.Detail)
	case *LayerEvent:
		w.u8(v.Kind)
		w.u8(v.LayerID)
		w.str(v.Title)
	case *LayerSelect:
		w.u8(v.LayerID)
	case *Deflate:
		w.u32(v.UncompressedSize)
		w.blob(v.Compressed)
	case *Chat:
		w.str(v.Text)
	case *Palette:
		w.u8(uint8(len(v.Colors)))
		for _, c := range v.Colors {
			w.u32(c)
		}
	default:
		return malformed("unknown message implementation")
	}
	return nil
}
