package abs9p

import "fmt"

// Fcall is one 9P2000.L message body. The set of implementations is
// closed: every opcode in the dialect has exactly one struct here.
// Encode and decode are exact inverses over the wire layout described
// in the diod protocol notes.
type Fcall interface {
	// messageType returns the opcode this message encodes as.
	messageType() MsgType
	// encode appends the message body to b.
	encode(b *buffer)
	// decode reads the message body from b. Failures are recorded in b.
	decode(b *buffer)
}

// fcallFactories builds a fresh message value for each decodable
// opcode. R-messages are included so the codec can be used by client
// code and round-trip tests alike.
var fcallFactories = map[MsgType]func() Fcall{
	MsgRlerror:      func() Fcall { return &Rlerror{} },
	MsgTstatfs:      func() Fcall { return &Tstatfs{} },
	MsgRstatfs:      func() Fcall { return &Rstatfs{} },
	MsgTlopen:       func() Fcall { return &Tlopen{} },
	MsgRlopen:       func() Fcall { return &Rlopen{} },
	MsgTlcreate:     func() Fcall { return &Tlcreate{} },
	MsgRlcreate:     func() Fcall { return &Rlcreate{} },
	MsgTsymlink:     func() Fcall { return &Tsymlink{} },
	MsgRsymlink:     func() Fcall { return &Rsymlink{} },
	MsgTmknod:       func() Fcall { return &Tmknod{} },
	MsgRmknod:       func() Fcall { return &Rmknod{} },
	MsgTrename:      func() Fcall { return &Trename{} },
	MsgRrename:      func() Fcall { return &Rrename{} },
	MsgTreadlink:    func() Fcall { return &Treadlink{} },
	MsgRreadlink:    func() Fcall { return &Rreadlink{} },
	MsgTgetattr:     func() Fcall { return &Tgetattr{} },
	MsgRgetattr:     func() Fcall { return &Rgetattr{} },
	MsgTsetattr:     func() Fcall { return &Tsetattr{} },
	MsgRsetattr:     func() Fcall { return &Rsetattr{} },
	MsgTxattrwalk:   func() Fcall { return &Txattrwalk{} },
	MsgRxattrwalk:   func() Fcall { return &Rxattrwalk{} },
	MsgTxattrcreate: func() Fcall { return &Txattrcreate{} },
	MsgRxattrcreate: func() Fcall { return &Rxattrcreate{} },
	MsgTreaddir:     func() Fcall { return &Treaddir{} },
	MsgRreaddir:     func() Fcall { return &Rreaddir{} },
	MsgTfsync:       func() Fcall { return &Tfsync{} },
	MsgRfsync:       func() Fcall { return &Rfsync{} },
	MsgTlock:        func() Fcall { return &Tlock{} },
	MsgRlock:        func() Fcall { return &Rlock{} },
	MsgTgetlock:     func() Fcall { return &Tgetlock{} },
	MsgRgetlock:     func() Fcall { return &Rgetlock{} },
	MsgTlink:        func() Fcall { return &Tlink{} },
	MsgRlink:        func() Fcall { return &Rlink{} },
	MsgTmkdir:       func() Fcall { return &Tmkdir{} },
	MsgRmkdir:       func() Fcall { return &Rmkdir{} },
	MsgTrenameat:    func() Fcall { return &Trenameat{} },
	MsgRrenameat:    func() Fcall { return &Rrenameat{} },
	MsgTunlinkat:    func() Fcall { return &Tunlinkat{} },
	MsgRunlinkat:    func() Fcall { return &Runlinkat{} },
	MsgTversion:     func() Fcall { return &Tversion{} },
	MsgRversion:     func() Fcall { return &Rversion{} },
	MsgTauth:        func() Fcall { return &Tauth{} },
	MsgRauth:        func() Fcall { return &Rauth{} },
	MsgTattach:      func() Fcall { return &Tattach{} },
	MsgRattach:      func() Fcall { return &Rattach{} },
	MsgTflush:       func() Fcall { return &Tflush{} },
	MsgRflush:       func() Fcall { return &Rflush{} },
	MsgTwalk:        func() Fcall { return &Twalk{} },
	MsgRwalk:        func() Fcall { return &Rwalk{} },
	MsgTread:        func() Fcall { return &Tread{} },
	MsgRread:        func() Fcall { return &Rread{} },
	MsgTwrite:       func() Fcall { return &Twrite{} },
	MsgRwrite:       func() Fcall { return &Rwrite{} },
	MsgTclunk:       func() Fcall { return &Tclunk{} },
	MsgRclunk:       func() Fcall { return &Rclunk{} },
	MsgTremove:      func() Fcall { return &Tremove{} },
	MsgRremove:      func() Fcall { return &Rremove{} },
}

// newFcall returns a zero message value for the given opcode, or a
// *MalformedFrameError for opcodes outside the dialect.
func newFcall(mt MsgType) (Fcall, error) {
	factory, ok := fcallFactories[mt]
	if !ok {
		return nil, &MalformedFrameError{Reason: fmt.Sprintf("unknown message type %d", mt)}
	}
	return factory(), nil
}

var msgTypeNames = map[MsgType]string{
	MsgRlerror: "Rlerror", MsgTstatfs: "Tstatfs", MsgRstatfs: "Rstatfs",
	MsgTlopen: "Tlopen", MsgRlopen: "Rlopen", MsgTlcreate: "Tlcreate",
	MsgRlcreate: "Rlcreate", MsgTsymlink: "Tsymlink", MsgRsymlink: "Rsymlink",
	MsgTmknod: "Tmknod", MsgRmknod: "Rmknod", MsgTrename: "Trename",
	MsgRrename: "Rrename", MsgTreadlink: "Treadlink", MsgRreadlink: "Rreadlink",
	MsgTgetattr: "Tgetattr", MsgRgetattr: "Rgetattr", MsgTsetattr: "Tsetattr",
	MsgRsetattr: "Rsetattr", MsgTxattrwalk: "Txattrwalk", MsgRxattrwalk: "Rxattrwalk",
	MsgTxattrcreate: "Txattrcreate", MsgRxattrcreate: "Rxattrcreate",
	MsgTreaddir: "Treaddir", MsgRreaddir: "Rreaddir", MsgTfsync: "Tfsync",
	MsgRfsync: "Rfsync", MsgTlock: "Tlock", MsgRlock: "Rlock",
	MsgTgetlock: "Tgetlock", MsgRgetlock: "Rgetlock", MsgTlink: "Tlink",
	MsgRlink: "Rlink", MsgTmkdir: "Tmkdir", MsgRmkdir: "Rmkdir",
	MsgTrenameat: "Trenameat", MsgRrenameat: "Rrenameat", MsgTunlinkat: "Tunlinkat",
	MsgRunlinkat: "Runlinkat", MsgTversion: "Tversion", MsgRversion: "Rversion",
	MsgTauth: "Tauth", MsgRauth: "Rauth", MsgTattach: "Tattach",
	MsgRattach: "Rattach", MsgTflush: "Tflush", MsgRflush: "Rflush",
	MsgTwalk: "Twalk", MsgRwalk: "Rwalk", MsgTread: "Tread",
	MsgRread: "Rread", MsgTwrite: "Twrite", MsgRwrite: "Rwrite",
	MsgTclunk: "Tclunk", MsgRclunk: "Rclunk", MsgTremove: "Tremove",
	MsgRremove: "Rremove",
}

// String implements fmt.Stringer.
func (mt MsgType) String() string {
	if name, ok := msgTypeNames[mt]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint8(mt))
}

// Tversion negotiates the protocol version and maximum message size.
type Tversion struct {
	MSize   uint32
	Version string
}

func (*Tversion) messageType() MsgType { return MsgTversion }
func (m *Tversion) encode(b *buffer) {
	b.Write32(m.MSize)
	b.WriteString(m.Version)
}
func (m *Tversion) decode(b *buffer) {
	m.MSize = b.Read32()
	m.Version = b.ReadString()
}

// Rversion is the reply to Tversion.
type Rversion struct {
	MSize   uint32
	Version string
}

func (*Rversion) messageType() MsgType { return MsgRversion }
func (m *Rversion) encode(b *buffer) {
	b.Write32(m.MSize)
	b.WriteString(m.Version)
}
func (m *Rversion) decode(b *buffer) {
	m.MSize = b.Read32()
	m.Version = b.ReadString()
}

// Rlerror is the error reply shared by all requests; Ecode is a Linux
// errno.
type Rlerror struct {
	Ecode uint32
}

func (*Rlerror) messageType() MsgType { return MsgRlerror }
func (m *Rlerror) encode(b *buffer)  { b.Write32(m.Ecode) }
func (m *Rlerror) decode(b *buffer)  { m.Ecode = b.Read32() }

// Tauth requests an authentication file for the given user.
type Tauth struct {
	AFid   Fid
	Uname  string
	Aname  string
	NUname uint32
}

func (*Tauth) messageType() MsgType { return MsgTauth }
func (m *Tauth) encode(b *buffer) {
	b.Write32(uint32(m.AFid))
	b.WriteString(m.Uname)
	b.WriteString(m.Aname)
	b.Write32(m.NUname)
}
func (m *Tauth) decode(b *buffer) {
	m.AFid = Fid(b.Read32())
	m.Uname = b.ReadString()
	m.Aname = b.ReadString()
	m.NUname = b.Read32()
}

// Rauth is the reply to Tauth.
type Rauth struct {
	AQid Qid
}

func (*Rauth) messageType() MsgType { return MsgRauth }
func (m *Rauth) encode(b *buffer)  { b.WriteQid(m.AQid) }
func (m *Rauth) decode(b *buffer)  { m.AQid = b.ReadQid() }

// Tattach introduces a new fid naming the root of the served tree.
type Tattach struct {
	Fid    Fid
	AFid   Fid
	Uname  string
	Aname  string
	NUname uint32
}

func (*Tattach) messageType() MsgType { return MsgTattach }
func (m *Tattach) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(uint32(m.AFid))
	b.WriteString(m.Uname)
	b.WriteString(m.Aname)
	b.Write32(m.NUname)
}
func (m *Tattach) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.AFid = Fid(b.Read32())
	m.Uname = b.ReadString()
	m.Aname = b.ReadString()
	m.NUname = b.Read32()
}

// Rattach is the reply to Tattach.
type Rattach struct {
	Qid Qid
}

func (*Rattach) messageType() MsgType { return MsgRattach }
func (m *Rattach) encode(b *buffer)  { b.WriteQid(m.Qid) }
func (m *Rattach) decode(b *buffer)  { m.Qid = b.ReadQid() }

// Tflush requests best-effort cancellation of the request pending on
// OldTag.
type Tflush struct {
	OldTag Tag
}

func (*Tflush) messageType() MsgType { return MsgTflush }
func (m *Tflush) encode(b *buffer)  { b.Write16(uint16(m.OldTag)) }
func (m *Tflush) decode(b *buffer)  { m.OldTag = Tag(b.Read16()) }

// Rflush is the reply to Tflush.
type Rflush struct{}

func (*Rflush) messageType() MsgType { return MsgRflush }
func (*Rflush) encode(*buffer)       {}
func (*Rflush) decode(*buffer)       {}

// Twalk resolves a sequence of path components starting at Fid,
// binding the result to NewFid.
type Twalk struct {
	Fid    Fid
	NewFid Fid
	Wnames []string
}

func (*Twalk) messageType() MsgType { return MsgTwalk }
func (m *Twalk) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(uint32(m.NewFid))
	b.Write16(uint16(len(m.Wnames)))
	for _, name := range m.Wnames {
		b.WriteString(name)
	}
}
func (m *Twalk) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.NewFid = Fid(b.Read32())
	n := b.Read16()
	m.Wnames = nil
	for i := uint16(0); i < n; i++ {
		if b.err() != nil {
			return
		}
		m.Wnames = append(m.Wnames, b.ReadString())
	}
}

// Rwalk is the reply to Twalk. A Qid list shorter than the requested
// name list signals a partial walk; NewFid is bound only when the
// lists have equal length.
type Rwalk struct {
	WQids []Qid
}

func (*Rwalk) messageType() MsgType { return MsgRwalk }
func (m *Rwalk) encode(b *buffer) {
	b.Write16(uint16(len(m.WQids)))
	for _, q := range m.WQids {
		b.WriteQid(q)
	}
}
func (m *Rwalk) decode(b *buffer) {
	n := b.Read16()
	m.WQids = nil
	for i := uint16(0); i < n; i++ {
		if b.err() != nil {
			return
		}
		m.WQids = append(m.WQids, b.ReadQid())
	}
}

// Tlopen prepares Fid for I/O. Flags carries Linux open(2) bits.
type Tlopen struct {
	Fid   Fid
	Flags uint32
}

func (*Tlopen) messageType() MsgType { return MsgTlopen }
func (m *Tlopen) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(m.Flags)
}
func (m *Tlopen) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Flags = b.Read32()
}

// Rlopen is the reply to Tlopen. An IOUnit of zero leaves transfer
// sizing to the negotiated msize.
type Rlopen struct {
	Qid    Qid
	IOUnit uint32
}

func (*Rlopen) messageType() MsgType { return MsgRlopen }
func (m *Rlopen) encode(b *buffer) {
	b.WriteQid(m.Qid)
	b.Write32(m.IOUnit)
}
func (m *Rlopen) decode(b *buffer) {
	m.Qid = b.ReadQid()
	m.IOUnit = b.Read32()
}

// Tlcreate creates a regular file Name in the directory named by Fid
// and opens it; on success Fid names the new file.
type Tlcreate struct {
	Fid   Fid
	Name  string
	Flags uint32
	Mode  uint32
	Gid   uint32
}

func (*Tlcreate) messageType() MsgType { return MsgTlcreate }
func (m *Tlcreate) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.WriteString(m.Name)
	b.Write32(m.Flags)
	b.Write32(m.Mode)
	b.Write32(m.Gid)
}
func (m *Tlcreate) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.Flags = b.Read32()
	m.Mode = b.Read32()
	m.Gid = b.Read32()
}

// Rlcreate is the reply to Tlcreate.
type Rlcreate struct {
	Qid    Qid
	IOUnit uint32
}

func (*Rlcreate) messageType() MsgType { return MsgRlcreate }
func (m *Rlcreate) encode(b *buffer) {
	b.WriteQid(m.Qid)
	b.Write32(m.IOUnit)
}
func (m *Rlcreate) decode(b *buffer) {
	m.Qid = b.ReadQid()
	m.IOUnit = b.Read32()
}

// Tread requests Count bytes at Offset from the open file named by
// Fid.
type Tread struct {
	Fid    Fid
	Offset uint64
	Count  uint32
}

func (*Tread) messageType() MsgType { return MsgTread }
func (m *Tread) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write64(m.Offset)
	b.Write32(m.Count)
}
func (m *Tread) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Offset = b.Read64()
	m.Count = b.Read32()
}

// Rread is the reply to Tread.
type Rread struct {
	Data []byte
}

func (*Rread) messageType() MsgType { return MsgRread }
func (m *Rread) encode(b *buffer)  { b.WriteBlob(m.Data) }
func (m *Rread) decode(b *buffer) {
	data := b.ReadBlob()
	m.Data = append([]byte(nil), data...)
}

// Twrite writes Data at Offset into the open file named by Fid.
type Twrite struct {
	Fid    Fid
	Offset uint64
	Data   []byte
}

func (*Twrite) messageType() MsgType { return MsgTwrite }
func (m *Twrite) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write64(m.Offset)
	b.WriteBlob(m.Data)
}
func (m *Twrite) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Offset = b.Read64()
	data := b.ReadBlob()
	m.Data = append([]byte(nil), data...)
}

// Rwrite is the reply to Twrite.
type Rwrite struct {
	Count uint32
}

func (*Rwrite) messageType() MsgType { return MsgRwrite }
func (m *Rwrite) encode(b *buffer)  { b.Write32(m.Count) }
func (m *Rwrite) decode(b *buffer)  { m.Count = b.Read32() }

// Tclunk releases Fid. The fid is freed even when the backend reports
// an error.
type Tclunk struct {
	Fid Fid
}

func (*Tclunk) messageType() MsgType { return MsgTclunk }
func (m *Tclunk) encode(b *buffer)  { b.Write32(uint32(m.Fid)) }
func (m *Tclunk) decode(b *buffer)  { m.Fid = Fid(b.Read32()) }

// Rclunk is the reply to Tclunk.
type Rclunk struct{}

func (*Rclunk) messageType() MsgType { return MsgRclunk }
func (*Rclunk) encode(*buffer)       {}
func (*Rclunk) decode(*buffer)       {}

// Tremove removes the file named by Fid and clunks the fid.
type Tremove struct {
	Fid Fid
}

func (*Tremove) messageType() MsgType { return MsgTremove }
func (m *Tremove) encode(b *buffer)  { b.Write32(uint32(m.Fid)) }
func (m *Tremove) decode(b *buffer)  { m.Fid = Fid(b.Read32()) }

// Rremove is the reply to Tremove.
type Rremove struct{}

func (*Rremove) messageType() MsgType { return MsgRremove }
func (*Rremove) encode(*buffer)       {}
func (*Rremove) decode(*buffer)       {}

// Tgetattr requests file attributes; RequestMask selects the fields
// the client wants.
type Tgetattr struct {
	Fid         Fid
	RequestMask AttrMask
}

func (*Tgetattr) messageType() MsgType { return MsgTgetattr }
func (m *Tgetattr) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write64(uint64(m.RequestMask))
}
func (m *Tgetattr) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.RequestMask = AttrMask(b.Read64())
}

// Rgetattr is the reply to Tgetattr; Valid names the Attr fields the
// server filled in.
type Rgetattr struct {
	Valid AttrMask
	Qid   Qid
	Attr  Attr
}

func (*Rgetattr) messageType() MsgType { return MsgRgetattr }
func (m *Rgetattr) encode(b *buffer) {
	b.Write64(uint64(m.Valid))
	b.WriteQid(m.Qid)
	m.Attr.encode(b)
}
func (m *Rgetattr) decode(b *buffer) {
	m.Valid = AttrMask(b.Read64())
	m.Qid = b.ReadQid()
	m.Attr.decode(b)
}

// Tsetattr updates file attributes selected by Valid.
type Tsetattr struct {
	Fid   Fid
	Valid SetAttrMask
	Attr  SetAttr
}

func (*Tsetattr) messageType() MsgType { return MsgTsetattr }
func (m *Tsetattr) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(uint32(m.Valid))
	m.Attr.encode(b)
}
func (m *Tsetattr) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Valid = SetAttrMask(b.Read32())
	m.Attr.decode(b)
}

// Rsetattr is the reply to Tsetattr.
type Rsetattr struct{}

func (*Rsetattr) messageType() MsgType { return MsgRsetattr }
func (*Rsetattr) encode(*buffer)       {}
func (*Rsetattr) decode(*buffer)       {}

// Treaddir requests directory entries from the open directory named
// by Fid. Offset is zero on the first call and the last returned
// entry's offset thereafter.
type Treaddir struct {
	Fid    Fid
	Offset uint64
	Count  uint32
}

func (*Treaddir) messageType() MsgType { return MsgTreaddir }
func (m *Treaddir) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write64(m.Offset)
	b.Write32(m.Count)
}
func (m *Treaddir) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Offset = b.Read64()
	m.Count = b.Read32()
}

// Rreaddir is the reply to Treaddir. Entries are packed back-to-back
// in a counted byte region.
type Rreaddir struct {
	Entries []Dirent
}

func (*Rreaddir) messageType() MsgType { return MsgRreaddir }
func (m *Rreaddir) encode(b *buffer) {
	inner := newBuffer(nil)
	for _, ent := range m.Entries {
		ent.encode(inner)
	}
	b.WriteBlob(inner.data)
}
func (m *Rreaddir) decode(b *buffer) {
	data := b.ReadBlob()
	if b.err() != nil {
		return
	}
	inner := newBuffer(data)
	m.Entries = nil
	for inner.remaining() > 0 {
		var ent Dirent
		ent.decode(inner)
		if inner.err() != nil {
			b.setFailed("malformed directory entry")
			return
		}
		m.Entries = append(m.Entries, ent)
	}
}

// Tsymlink creates a symbolic link Name in the directory named by
// Fid, pointing at SymTgt.
type Tsymlink struct {
	Fid    Fid
	Name   string
	SymTgt string
	Gid    uint32
}

func (*Tsymlink) messageType() MsgType { return MsgTsymlink }
func (m *Tsymlink) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.WriteString(m.Name)
	b.WriteString(m.SymTgt)
	b.Write32(m.Gid)
}
func (m *Tsymlink) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.SymTgt = b.ReadString()
	m.Gid = b.Read32()
}

// Rsymlink is the reply to Tsymlink.
type Rsymlink struct {
	Qid Qid
}

func (*Rsymlink) messageType() MsgType { return MsgRsymlink }
func (m *Rsymlink) encode(b *buffer)  { b.WriteQid(m.Qid) }
func (m *Rsymlink) decode(b *buffer)  { m.Qid = b.ReadQid() }

// Treadlink reads the target of the symbolic link named by Fid.
type Treadlink struct {
	Fid Fid
}

func (*Treadlink) messageType() MsgType { return MsgTreadlink }
func (m *Treadlink) encode(b *buffer)  { b.Write32(uint32(m.Fid)) }
func (m *Treadlink) decode(b *buffer)  { m.Fid = Fid(b.Read32()) }

// Rreadlink is the reply to Treadlink.
type Rreadlink struct {
	Target string
}

func (*Rreadlink) messageType() MsgType { return MsgRreadlink }
func (m *Rreadlink) encode(b *buffer)  { b.WriteString(m.Target) }
func (m *Rreadlink) decode(b *buffer)  { m.Target = b.ReadString() }

// Tlink creates a hard link Name in the directory DFid to the file
// named by Fid.
type Tlink struct {
	DFid Fid
	Fid  Fid
	Name string
}

func (*Tlink) messageType() MsgType { return MsgTlink }
func (m *Tlink) encode(b *buffer) {
	b.Write32(uint32(m.DFid))
	b.Write32(uint32(m.Fid))
	b.WriteString(m.Name)
}
func (m *Tlink) decode(b *buffer) {
	m.DFid = Fid(b.Read32())
	m.Fid = Fid(b.Read32())
	m.Name = b.ReadString()
}

// Rlink is the reply to Tlink.
type Rlink struct{}

func (*Rlink) messageType() MsgType { return MsgRlink }
func (*Rlink) encode(*buffer)       {}
func (*Rlink) decode(*buffer)       {}

// Tmkdir creates directory Name in the directory named by DFid.
type Tmkdir struct {
	DFid Fid
	Name string
	Mode uint32
	Gid  uint32
}

func (*Tmkdir) messageType() MsgType { return MsgTmkdir }
func (m *Tmkdir) encode(b *buffer) {
	b.Write32(uint32(m.DFid))
	b.WriteString(m.Name)
	b.Write32(m.Mode)
	b.Write32(m.Gid)
}
func (m *Tmkdir) decode(b *buffer) {
	m.DFid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.Mode = b.Read32()
	m.Gid = b.Read32()
}

// Rmkdir is the reply to Tmkdir.
type Rmkdir struct {
	Qid Qid
}

func (*Rmkdir) messageType() MsgType { return MsgRmkdir }
func (m *Rmkdir) encode(b *buffer)  { b.WriteQid(m.Qid) }
func (m *Rmkdir) decode(b *buffer)  { m.Qid = b.ReadQid() }

// Tmknod creates a device node Name in the directory named by DFid.
type Tmknod struct {
	DFid  Fid
	Name  string
	Mode  uint32
	Major uint32
	Minor uint32
	Gid   uint32
}

func (*Tmknod) messageType() MsgType { return MsgTmknod }
func (m *Tmknod) encode(b *buffer) {
	b.Write32(uint32(m.DFid))
	b.WriteString(m.Name)
	b.Write32(m.Mode)
	b.Write32(m.Major)
	b.Write32(m.Minor)
	b.Write32(m.Gid)
}
func (m *Tmknod) decode(b *buffer) {
	m.DFid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.Mode = b.Read32()
	m.Major = b.Read32()
	m.Minor = b.Read32()
	m.Gid = b.Read32()
}

// Rmknod is the reply to Tmknod.
type Rmknod struct {
	Qid Qid
}

func (*Rmknod) messageType() MsgType { return MsgRmknod }
func (m *Rmknod) encode(b *buffer)  { b.WriteQid(m.Qid) }
func (m *Rmknod) decode(b *buffer)  { m.Qid = b.ReadQid() }

// Trename moves the file named by Fid to Name in the directory DFid.
// Superseded by Trenameat but still part of the dialect.
type Trename struct {
	Fid  Fid
	DFid Fid
	Name string
}

func (*Trename) messageType() MsgType { return MsgTrename }
func (m *Trename) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(uint32(m.DFid))
	b.WriteString(m.Name)
}
func (m *Trename) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.DFid = Fid(b.Read32())
	m.Name = b.ReadString()
}

// Rrename is the reply to Trename.
type Rrename struct{}

func (*Rrename) messageType() MsgType { return MsgRrename }
func (*Rrename) encode(*buffer)       {}
func (*Rrename) decode(*buffer)       {}

// Trenameat renames OldName in directory OldDirFid to NewName in
// directory NewDirFid.
type Trenameat struct {
	OldDirFid Fid
	OldName   string
	NewDirFid Fid
	NewName   string
}

func (*Trenameat) messageType() MsgType { return MsgTrenameat }
func (m *Trenameat) encode(b *buffer) {
	b.Write32(uint32(m.OldDirFid))
	b.WriteString(m.OldName)
	b.Write32(uint32(m.NewDirFid))
	b.WriteString(m.NewName)
}
func (m *Trenameat) decode(b *buffer) {
	m.OldDirFid = Fid(b.Read32())
	m.OldName = b.ReadString()
	m.NewDirFid = Fid(b.Read32())
	m.NewName = b.ReadString()
}

// Rrenameat is the reply to Trenameat.
type Rrenameat struct{}

func (*Rrenameat) messageType() MsgType { return MsgRrenameat }
func (*Rrenameat) encode(*buffer)       {}
func (*Rrenameat) decode(*buffer)       {}

// Tunlinkat removes Name from the directory named by DirFid without
// clunking any fid that may reference the file.
type Tunlinkat struct {
	DirFid Fid
	Name   string
	Flags  uint32
}

func (*Tunlinkat) messageType() MsgType { return MsgTunlinkat }
func (m *Tunlinkat) encode(b *buffer) {
	b.Write32(uint32(m.DirFid))
	b.WriteString(m.Name)
	b.Write32(m.Flags)
}
func (m *Tunlinkat) decode(b *buffer) {
	m.DirFid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.Flags = b.Read32()
}

// Runlinkat is the reply to Tunlinkat.
type Runlinkat struct{}

func (*Runlinkat) messageType() MsgType { return MsgRunlinkat }
func (*Runlinkat) encode(*buffer)       {}
func (*Runlinkat) decode(*buffer)       {}

// Tfsync flushes cached data for the open file named by Fid to
// stable storage.
type Tfsync struct {
	Fid Fid
}

func (*Tfsync) messageType() MsgType { return MsgTfsync }
func (m *Tfsync) encode(b *buffer)  { b.Write32(uint32(m.Fid)) }
func (m *Tfsync) decode(b *buffer)  { m.Fid = Fid(b.Read32()) }

// Rfsync is the reply to Tfsync.
type Rfsync struct{}

func (*Rfsync) messageType() MsgType { return MsgRfsync }
func (*Rfsync) encode(*buffer)       {}
func (*Rfsync) decode(*buffer)       {}

// Tlock acquires or releases a POSIX record lock, like
// fcntl(F_SETLK).
type Tlock struct {
	Fid      Fid
	Type     uint8
	Flags    uint32
	Start    uint64
	Length   uint64
	ProcID   uint32
	ClientID string
}

func (*Tlock) messageType() MsgType { return MsgTlock }
func (m *Tlock) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write8(m.Type)
	b.Write32(m.Flags)
	b.Write64(m.Start)
	b.Write64(m.Length)
	b.Write32(m.ProcID)
	b.WriteString(m.ClientID)
}
func (m *Tlock) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Type = b.Read8()
	m.Flags = b.Read32()
	m.Start = b.Read64()
	m.Length = b.Read64()
	m.ProcID = b.Read32()
	m.ClientID = b.ReadString()
}

// Rlock is the reply to Tlock.
type Rlock struct {
	Status LockStatus
}

func (*Rlock) messageType() MsgType { return MsgRlock }
func (m *Rlock) encode(b *buffer)  { b.Write8(uint8(m.Status)) }
func (m *Rlock) decode(b *buffer)  { m.Status = LockStatus(b.Read8()) }

// Tgetlock tests for a POSIX record lock, like fcntl(F_GETLK).
type Tgetlock struct {
	Fid      Fid
	Type     uint8
	Start    uint64
	Length   uint64
	ProcID   uint32
	ClientID string
}

func (*Tgetlock) messageType() MsgType { return MsgTgetlock }
func (m *Tgetlock) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write8(m.Type)
	b.Write64(m.Start)
	b.Write64(m.Length)
	b.Write32(m.ProcID)
	b.WriteString(m.ClientID)
}
func (m *Tgetlock) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Type = b.Read8()
	m.Start = b.Read64()
	m.Length = b.Read64()
	m.ProcID = b.Read32()
	m.ClientID = b.ReadString()
}

// Rgetlock is the reply to Tgetlock. Type is LockTypeUnlock when no
// conflicting lock exists; otherwise it describes the blocker.
type Rgetlock struct {
	Type     uint8
	Start    uint64
	Length   uint64
	ProcID   uint32
	ClientID string
}

func (*Rgetlock) messageType() MsgType { return MsgRgetlock }
func (m *Rgetlock) encode(b *buffer) {
	b.Write8(m.Type)
	b.Write64(m.Start)
	b.Write64(m.Length)
	b.Write32(m.ProcID)
	b.WriteString(m.ClientID)
}
func (m *Rgetlock) decode(b *buffer) {
	m.Type = b.Read8()
	m.Start = b.Read64()
	m.Length = b.Read64()
	m.ProcID = b.Read32()
	m.ClientID = b.ReadString()
}

// Tstatfs requests statistics for the filesystem containing the file
// named by Fid.
type Tstatfs struct {
	Fid Fid
}

func (*Tstatfs) messageType() MsgType { return MsgTstatfs }
func (m *Tstatfs) encode(b *buffer)  { b.Write32(uint32(m.Fid)) }
func (m *Tstatfs) decode(b *buffer)  { m.Fid = Fid(b.Read32()) }

// Rstatfs is the reply to Tstatfs.
type Rstatfs struct {
	Statfs Statfs
}

func (*Rstatfs) messageType() MsgType { return MsgRstatfs }
func (m *Rstatfs) encode(b *buffer)  { m.Statfs.encode(b) }
func (m *Rstatfs) decode(b *buffer)  { m.Statfs.decode(b) }

// Txattrwalk binds NewFid to the extended attribute Name of the file
// named by Fid, for later reads. An empty Name lists attributes.
type Txattrwalk struct {
	Fid    Fid
	NewFid Fid
	Name   string
}

func (*Txattrwalk) messageType() MsgType { return MsgTxattrwalk }
func (m *Txattrwalk) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.Write32(uint32(m.NewFid))
	b.WriteString(m.Name)
}
func (m *Txattrwalk) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.NewFid = Fid(b.Read32())
	m.Name = b.ReadString()
}

// Rxattrwalk is the reply to Txattrwalk.
type Rxattrwalk struct {
	Size uint64
}

func (*Rxattrwalk) messageType() MsgType { return MsgRxattrwalk }
func (m *Rxattrwalk) encode(b *buffer)  { b.Write64(m.Size) }
func (m *Rxattrwalk) decode(b *buffer)  { m.Size = b.Read64() }

// Txattrcreate prepares Fid for writing the extended attribute Name.
type Txattrcreate struct {
	Fid      Fid
	Name     string
	AttrSize uint64
	Flags    uint32
}

func (*Txattrcreate) messageType() MsgType { return MsgTxattrcreate }
func (m *Txattrcreate) encode(b *buffer) {
	b.Write32(uint32(m.Fid))
	b.WriteString(m.Name)
	b.Write64(m.AttrSize)
	b.Write32(m.Flags)
}
func (m *Txattrcreate) decode(b *buffer) {
	m.Fid = Fid(b.Read32())
	m.Name = b.ReadString()
	m.AttrSize = b.Read64()
	m.Flags = b.Read32()
}

// Rxattrcreate is the reply to Txattrcreate.
type Rxattrcreate struct{}

func (*Rxattrcreate) messageType() MsgType { return MsgRxattrcreate }
func (*Rxattrcreate) encode(*buffer)       {}
func (*Rxattrcreate) decode(*buffer)       {}
