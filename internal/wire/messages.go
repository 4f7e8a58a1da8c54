package wire

// Every concrete message embeds Header and implements Message via the
// embedded accessors below.

type Identifier struct {
	Header
	Revision   uint32
	Level      uint32
	Flags      uint8
	Extensions uint8
}

type HostInfo struct {
	Header
	UsersOnline    uint8
	UsersMax       uint8
	SessionsOnline uint8
	SessionsMax    uint8
	ReqFlags       uint8
	ExtFlags       uint8
	Title          string
}

// UserEvent is the closed set of UserInfo sub-events.
type UserEvent uint8

const (
	UserJoined UserEvent = iota
	UserLeft
	UserKicked
)

type UserInfo struct {
	Header
	Event  UserEvent
	Reason string
	Name   string
}

type SessionInfo struct {
	Header
	Title           string
	Width           uint16
	Height          uint16
	ModeFlags       uint8
	MaxUsers        uint8
	SubscriberCount uint8
}

type StrokeInfo struct {
	Header
	X        uint16
	Y        uint16
	Pressure uint8
}

type StrokeEnd struct {
	Header
}

type ToolInfo struct {
	Header
	ToolID     uint8
	Mode       uint8
	LoColor    uint32
	HiColor    uint32
	LoSize     uint8
	HiSize     uint8
	LoHardness uint8
	HiHardness uint8
	Spacing    uint8
}

type Authentication struct {
	Header
	Secret []byte
}

type Password struct {
	Header
	Password string
}

type Synchronize struct {
	Header
}

type Raster struct {
	Header
	Offset uint32
	Length uint32
	Size   uint32
	Data   []byte
}

type SyncWait struct {
	Header
}

type Subscribe struct {
	Header
	Password string
}

type Unsubscribe struct {
	Header
}

type SessionSelect struct {
	Header
}

// InstructionKind is the closed set of admin sub-instructions (SPEC_FULL §4.5).
type InstructionKind uint8

const (
	InstructionCreateSession InstructionKind = iota
	InstructionDestroySession
	InstructionKick
	InstructionLockSession
	InstructionUnlockSession
	InstructionLockUser
	InstructionUnlockUser
	InstructionSetMaxUsers
	InstructionSetSessionTitle
	InstructionAnnounce
)

type Instruction struct {
	Header
	Sub          InstructionKind
	TargetUserID uint8
	Width        uint16
	Height       uint16
	MaxUsers     uint8
	Title        string
	Password     string
	Message      string
}

type ListSessions struct {
	Header
}

type Cancel struct {
	Header
}

// AckKind is the closed set of Acknowledgement sub-kinds.
type AckKind uint8

const (
	AckSyncWait AckKind = iota
)

type Acknowledgement struct {
	Header
	Kind AckKind
}

type Error struct {
	Header
	Reason ErrorReason
	Detail string
}

// SessionEventKind is the closed set of SessionEvent sub-kinds.
type SessionEventKind uint8

const (
	SessionEnded SessionEventKind = iota
)

type SessionEvent struct {
	Header
	Kind   SessionEventKind
	Detail string
}

type LayerEvent struct {
	Header
	Kind    uint8
	LayerID uint8
	Title   string
}

type LayerSelect struct {
	Header
	LayerID uint8
}

type Deflate struct {
	Header
	UncompressedSize uint32
	Compressed       []byte
}

type Chat struct {
	Header
	Text string
}

type Palette struct {
	Header
	Colors []uint32
}

// --- Message interface plumbing -------------------------------------------------

func (m *Identifier) Type() Type       { return TypeIdentifier }
func (m *HostInfo) Type() Type         { return TypeHostInfo }
func (m *UserInfo) Type() Type         { return TypeUserInfo }
func (m *SessionInfo) Type() Type      { return TypeSessionInfo }
func (m *StrokeInfo) Type() Type       { return TypeStrokeInfo }
func (m *StrokeEnd) Type() Type        { return TypeStrokeEnd }
func (m *ToolInfo) Type() Type         { return TypeToolInfo }
func (m *Authentication) Type() Type   { return TypeAuthentication }
func (m *Password) Type() Type         { return TypePassword }
func (m *Synchronize) Type() Type      { return TypeSynchronize }
func (m *Raster) Type() Type           { return TypeRaster }
func (m *SyncWait) Type() Type         { return TypeSyncWait }
func (m *Subscribe) Type() Type        { return TypeSubscribe }
func (m *Unsubscribe) Type() Type      { return TypeUnsubscribe }
func (m *SessionSelect) Type() Type    { return TypeSessionSelect }
func (m *Instruction) Type() Type      { return TypeInstruction }
func (m *ListSessions) Type() Type     { return TypeListSessions }
func (m *Cancel) Type() Type           { return TypeCancel }
func (m *Acknowledgement) Type() Type  { return TypeAcknowledgement }
func (m *Error) Type() Type            { return TypeError }
func (m *SessionEvent) Type() Type     { return TypeSessionEvent }
func (m *LayerEvent) Type() Type       { return TypeLayerEvent }
func (m *LayerSelect) Type() Type      { return TypeLayerSelect }
func (m *Deflate) Type() Type          { return TypeDeflate }
func (m *Chat) Type() Type             { return TypeChat }
func (m *Palette) Type() Type          { return TypePalette }

func (m *Identifier) Head() Header      { return m.Header }
func (m *HostInfo) Head() Header        { return m.Header }
func (m *UserInfo) Head() Header        { return m.Header }
func (m *SessionInfo) Head() Header     { return m.Header }
func (m *StrokeInfo) Head() Header      { return m.Header }
func (m *StrokeEnd) Head() Header       { return m.Header }
func (m *ToolInfo) Head() Header        { return m.Header }
func (m *Authentication) Head() Header  { return m.Header }
func (m *Password) Head() Header        { return m.Header }
func (m *Synchronize) Head() Header     { return m.Header }
func (m *Raster) Head() Header          { return m.Header }
func (m *SyncWait) Head() Header        { return m.Header }
func (m *Subscribe) Head() Header       { return m.Header }
func (m *Unsubscribe) Head() Header     { return m.Header }
func (m *SessionSelect) Head() Header   { return m.Header }
func (m *Instruction) Head() Header     { return m.Header }
func (m *ListSessions) Head() Header    { return m.Header }
func (m *Cancel) Head() Header          { return m.Header }
func (m *Acknowledgement) Head() Header { return m.Header }
func (m *Error) Head() Header           { return m.Header }
func (m *SessionEvent) Head() Header    { return m.Header }
func (m *LayerEvent) Head() Header      { return m.Header }
func (m *LayerSelect) Head() Header     { return m.Header }
func (m *Deflate) Head() Header         { return m.Header }
func (m *Chat) Head() Header            { return m.Header }
func (m *Palette) Head() Header         { return m.Header }

func (m *Identifier) SetHead(h Header)      { m.Header = h }
func (m *HostInfo) SetHead(h Header)        { m.Header = h }
func (m *UserInfo) SetHead(h Header)        { m.Header = h }
func (m *SessionInfo) SetHead(h Header)     { m.Header = h }
func (m *StrokeInfo) SetHead(h Header)      { m.Header = h }
func (m *StrokeEnd) SetHead(h Header)       { m.Header = h }
func (m *ToolInfo) SetHead(h Header)        { m.Header = h }
func (m *Authentication) SetHead(h Header)  { m.Header = h }
func (m *Password) SetHead(h Header)        { m.Header = h }
func (m *Synchronize) SetHead(h Header)     { m.Header = h }
func (m *Raster) SetHead(h Header)          { m.Header = h }
func (m *SyncWait) SetHead(h Header)        { m.Header = h }
func (m *Subscribe) SetHead(h Header)       { m.Header = h }
func (m *Unsubscribe) SetHead(h Header)     { m.Header = h }
func (m *SessionSelect) SetHead(h Header)   { m.Header = h }
func (m *Instruction) SetHead(h Header)     { m.Header = h }
func (m *ListSessions) SetHead(h Header)    { m.Header = h }
func (m *Cancel) SetHead(h Header)          { m.Header = h }
func (m *Acknowledgement) SetHead(h Header) { m.Header = h }
func (m *Error) SetHead(h Header)           { m.Header = h }
func (m *SessionEvent) SetHead(h Header)    { m.Header = h }
func (m *LayerEvent) SetHead(h Header)      { m.Header = h }
func (m *LayerSelect) SetHead(h Header)     { m.Header = h }
func (m *Deflate) SetHead(h Header)         { m.Header = h }
func (m *Chat) SetHead(h Header)            { m.Header = h }
func (m *Palette) SetHead(h Header)         { m.Header = h }
