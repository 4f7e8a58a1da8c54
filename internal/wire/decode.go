package wire

// DecodeResult is what Decode returns on success: one or more messages (more
// than one only for a bulk-encoded run) and the number of bytes consumed
// from the input to produce them.
type DecodeResult struct {
	Messages []Message
	Consumed int
}

// Decode attempts one codec pass over buf. It returns:
//   - a DecodeResult when buf contains at least one complete frame,
//   - *NeedMoreError when buf is a strict prefix of a valid frame,
//   - *MalformedError when buf cannot be a prefix of any valid frame.
func Decode(buf []byte) (DecodeResult, error) {
	c := &cursor{buf: buf}

	rawType, err := c.u8()
	if err != nil {
		return DecodeResult{}, err
	}
	t := Type(rawType)
	if t >= typeCount {
		return DecodeResult{}, malformed("unknown type tag")
	}

	userID, err := c.u8()
	if err != nil {
		return DecodeResult{}, err
	}
	flags, err := c.u8()
	if err != nil {
		return DecodeResult{}, err
	}
	bulk := flags&flagBulk != 0
	hasSession := flags&flagSession != 0
	if flags&^(flagBulk|flagSession) != 0 {
		return DecodeResult{}, malformed("reserved flag bits set")
	}
	if bulk && !bulkEligible(t) {
		return DecodeResult{}, malformed("bulk flag set on non-bulk-eligible type")
	}

	var sessionID uint8
	if hasSession {
		sessionID, err = c.u8()
		if err != nil {
			return DecodeResult{}, err
		}
	}
	head := Header{UserID: userID, SessionID: sessionID, HasSession: hasSession, Bulk: bulk}

	if !bulk {
		msg, err := decodePayload(c, t, head)
		if err != nil {
			return DecodeResult{}, err
		}
		return DecodeResult{Messages: []Message{msg}, Consumed: c.pos}, nil
	}

	count, err := c.u16()
	if err != nil {
		return DecodeResult{}, err
	}
	if count == 0 {
		return DecodeResult{}, malformed("bulk frame declares zero messages")
	}
	msgs := make([]Message, 0, count)
	singleHead := head
	singleHead.Bulk = false
	for i := 0; i < int(count); i++ {
		msg, err := decodePayload(c, t, singleHead)
		if err != nil {
			return DecodeResult{}, err
		}
		msgs = append(msgs, msg)
	}
	return DecodeResult{Messages: msgs, Consumed: c.pos}, nil
}

func decodePayload(c *cursor, t Type, head Header) (Message, error) {
	switch t {
	case TypeIdentifier:
		m := &Identifier{}
		got, err := c.bytes(8)
		if err != nil {
			return nil, err
		}
		for i, b := range magic {
			if got[i] != b {
				return nil, malformed("bad Identifier magic")
			}
		}
		if m.Revision, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Level, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Flags, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Extensions, err = c.u8(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeHostInfo:
		m := &HostInfo{}
		var err error
		if m.UsersOnline, err = c.u8(); err != nil {
			return nil, err
		}
		if m.UsersMax, err = c.u8(); err != nil {
			return nil, err
		}
		if m.SessionsOnline, err = c.u8(); err != nil {
			return nil, err
		}
		if m.SessionsMax, err = c.u8(); err != nil {
			return nil, err
		}
		if m.ReqFlags, err = c.u8(); err != nil {
			return nil, err
		}
		if m.ExtFlags, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Title, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeUserInfo:
		m := &UserInfo{}
		ev, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Event = UserEvent(ev)
		if m.Reason, err = c.str(); err != nil {
			return nil, err
		}
		if m.Name, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeSessionInfo:
		m := &SessionInfo{}
		var err error
		if m.Title, err = c.str(); err != nil {
			return nil, err
		}
		if m.Width, err = c.u16(); err != nil {
			return nil, err
		}
		if m.Height, err = c.u16(); err != nil {
			return nil, err
		}
		if m.ModeFlags, err = c.u8(); err != nil {
			return nil, err
		}
		if m.MaxUsers, err = c.u8(); err != nil {
			return nil, err
		}
		if m.SubscriberCount, err = c.u8(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeStrokeInfo:
		m := &StrokeInfo{}
		var err error
		if m.X, err = c.u16(); err != nil {
			return nil, err
		}
		if m.Y, err = c.u16(); err != nil {
			return nil, err
		}
		if m.Pressure, err = c.u8(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeStrokeEnd:
		m := &StrokeEnd{}
		m.SetHead(head)
		return m, nil

	case TypeToolInfo:
		m := &ToolInfo{}
		var err error
		if m.ToolID, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Mode, err = c.u8(); err != nil {
			return nil, err
		}
		if m.LoColor, err = c.u32(); err != nil {
			return nil, err
		}
		if m.HiColor, err = c.u32(); err != nil {
			return nil, err
		}
		if m.LoSize, err = c.u8(); err != nil {
			return nil, err
		}
		if m.HiSize, err = c.u8(); err != nil {
			return nil, err
		}
		if m.LoHardness, err = c.u8(); err != nil {
			return nil, err
		}
		if m.HiHardness, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Spacing, err = c.u8(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeAuthentication:
		m := &Authentication{}
		secret, err := c.blob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		m.Secret = secret
		m.SetHead(head)
		return m, nil

	case TypePassword:
		m := &Password{}
		pw, err := c.str()
		if err != nil {
			return nil, err
		}
		m.Password = pw
		m.SetHead(head)
		return m, nil

	case TypeSynchronize:
		m := &Synchronize{}
		m.SetHead(head)
		return m, nil

	case TypeRaster:
		m := &Raster{}
		var err error
		if m.Offset, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Length, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Size, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Length > maxBlobLen {
			return nil, malformed("raster chunk length exceeds maximum")
		}
		if m.Data, err = c.bytes(int(m.Length)); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeSyncWait:
		m := &SyncWait{}
		m.SetHead(head)
		return m, nil

	case TypeSubscribe:
		m := &Subscribe{}
		pw, err := c.str()
		if err != nil {
			return nil, err
		}
		m.Password = pw
		m.SetHead(head)
		return m, nil

	case TypeUnsubscribe:
		m := &Unsubscribe{}
		m.SetHead(head)
		return m, nil

	case TypeSessionSelect:
		m := &SessionSelect{}
		m.SetHead(head)
		return m, nil

	case TypeInstruction:
		m := &Instruction{}
		sub, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Sub = InstructionKind(sub)
		if m.TargetUserID, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Width, err = c.u16(); err != nil {
			return nil, err
		}
		if m.Height, err = c.u16(); err != nil {
			return nil, err
		}
		if m.MaxUsers, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Title, err = c.str(); err != nil {
			return nil, err
		}
		if m.Password, err = c.str(); err != nil {
			return nil, err
		}
		if m.Message, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeListSessions:
		m := &ListSessions{}
		m.SetHead(head)
		return m, nil

	case TypeCancel:
		m := &Cancel{}
		m.SetHead(head)
		return m, nil

	case TypeAcknowledgement:
		m := &Acknowledgement{}
		k, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Kind = AckKind(k)
		m.SetHead(head)
		return m, nil

	case TypeError:
		m := &Error{}
		r, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Reason = ErrorReason(r)
		if m.Detail, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeSessionEvent:
		m := &SessionEvent{}
		k, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Kind = SessionEventKind(k)
		if m.Detail, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeLayerEvent:
		m := &LayerEvent{}
		var err error
		if m.Kind, err = c.u8(); err != nil {
			return nil, err
		}
		if m.LayerID, err = c.u8(); err != nil {
			return nil, err
		}
		if m.Title, err = c.str(); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeLayerSelect:
		m := &LayerSelect{}
		id, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.LayerID = id
		m.SetHead(head)
		return m, nil

	case TypeDeflate:
		m := &Deflate{}
		var err error
		if m.UncompressedSize, err = c.u32(); err != nil {
			return nil, err
		}
		if m.Compressed, err = c.blob(maxBlobLen); err != nil {
			return nil, err
		}
		m.SetHead(head)
		return m, nil

	case TypeChat:
		m := &Chat{}
		text, err := c.str()
		if err != nil {
			return nil, err
		}
		m.Text = text
		m.SetHead(head)
		return m, nil

	case TypePalette:
		m := &Palette{}
		n, err := c.u8()
		if err != nil {
			return nil, err
		}
		m.Colors = make([]uint32, n)
		for i := range m.Colors {
			if m.Colors[i], err = c.u32(); err != nil {
				return nil, err
			}
		}
		m.SetHead(head)
		return m, nil
	}
	return nil, malformed("unhandled type in decodePayload")
}
