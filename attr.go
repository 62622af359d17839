package abs9p

import (
	"os"
	"time"
)

// AttrMask selects fields in a Tgetattr request and reports which
// fields the server filled in an Rgetattr reply.
type AttrMask uint64

// AttrMask bits.
const (
	AttrMode        AttrMask = 0x1
	AttrNLink       AttrMask = 0x2
	AttrUID         AttrMask = 0x4
	AttrGID         AttrMask = 0x8
	AttrRDev        AttrMask = 0x10
	AttrATime       AttrMask = 0x20
	AttrMTime       AttrMask = 0x40
	AttrCTime       AttrMask = 0x80
	AttrINo         AttrMask = 0x100
	AttrSize        AttrMask = 0x200
	AttrBlocks      AttrMask = 0x400
	AttrBTime       AttrMask = 0x800
	AttrGen         AttrMask = 0x1000
	AttrDataVersion AttrMask = 0x2000

	// AttrMaskBasic covers the fields every POSIX stat(2) carries.
	AttrMaskBasic AttrMask = 0x7ff
	// AttrMaskAll covers every defined field.
	AttrMaskAll AttrMask = 0x3fff
)

// Attr is the stat record carried by Rgetattr. Field layout matches
// the 9P2000.L getattr response body.
type Attr struct {
	Mode        uint32
	UID         uint32
	GID         uint32
	NLink       uint64
	RDev        uint64
	Size        uint64
	BlockSize   uint64
	Blocks      uint64
	ATimeSec    uint64
	ATimeNSec   uint64
	MTimeSec    uint64
	MTimeNSec   uint64
	CTimeSec    uint64
	CTimeNSec   uint64
	BTimeSec    uint64
	BTimeNSec   uint64
	Gen         uint64
	DataVersion uint64
}

func (a *Attr) encode(b *buffer) {
	b.Write32(a.Mode)
	b.Write32(a.UID)
	b.Write32(a.GID)
	b.Write64(a.NLink)
	b.Write64(a.RDev)
	b.Write64(a.Size)
	b.Write64(a.BlockSize)
	b.Write64(a.Blocks)
	b.Write64(a.ATimeSec)
	b.Write64(a.ATimeNSec)
	b.Write64(a.MTimeSec)
	b.Write64(a.MTimeNSec)
	b.Write64(a.CTimeSec)
	b.Write64(a.CTimeNSec)
	b.Write64(a.BTimeSec)
	b.Write64(a.BTimeNSec)
	b.Write64(a.Gen)
	b.Write64(a.DataVersion)
}

func (a *Attr) decode(b *buffer) {
	a.Mode = b.Read32()
	a.UID = b.Read32()
	a.GID = b.Read32()
	a.NLink = b.Read64()
	a.RDev = b.Read64()
	a.Size = b.Read64()
	a.BlockSize = b.Read64()
	a.Blocks = b.Read64()
	a.ATimeSec = b.Read64()
	a.ATimeNSec = b.Read64()
	a.MTimeSec = b.Read64()
	a.MTimeNSec = b.Read64()
	a.CTimeSec = b.Read64()
	a.CTimeNSec = b.Read64()
	a.BTimeSec = b.Read64()
	a.BTimeNSec = b.Read64()
	a.Gen = b.Read64()
	a.DataVersion = b.Read64()
}

// SetMTime stores t into the MTime second/nanosecond pair.
func (a *Attr) SetMTime(t time.Time) {
	a.MTimeSec = uint64(t.Unix())
	a.MTimeNSec = uint64(t.Nanosecond())
}

// SetATime stores t into the ATime second/nanosecond pair.
func (a *Attr) SetATime(t time.Time) {
	a.ATimeSec = uint64(t.Unix())
	a.ATimeNSec = uint64(t.Nanosecond())
}

// SetAttrMask selects fields in a Tsetattr request.
type SetAttrMask uint32

// SetAttrMask bits.
const (
	SetAttrMode     SetAttrMask = 0x1
	SetAttrUID      SetAttrMask = 0x2
	SetAttrGID      SetAttrMask = 0x4
	SetAttrSize     SetAttrMask = 0x8
	SetAttrATime    SetAttrMask = 0x10
	SetAttrMTime    SetAttrMask = 0x20
	SetAttrCTime    SetAttrMask = 0x40
	SetAttrATimeSet SetAttrMask = 0x80
	SetAttrMTimeSet SetAttrMask = 0x100
)

// SetAttr is the attribute-update record carried by Tsetattr. Fields
// are meaningful only when the corresponding SetAttrMask bit is set;
// the *TimeSet bits distinguish "set to this value" from "set to the
// server's current time".
type SetAttr struct {
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      uint64
	ATimeSec  uint64
	ATimeNSec uint64
	MTimeSec  uint64
	MTimeNSec uint64
}

func (a *SetAttr) encode(b *buffer) {
	b.Write32(a.Mode)
	b.Write32(a.UID)
	b.Write32(a.GID)
	b.Write64(a.Size)
	b.Write64(a.ATimeSec)
	b.Write64(a.ATimeNSec)
	b.Write64(a.MTimeSec)
	b.Write64(a.MTimeNSec)
}

func (a *SetAttr) decode(b *buffer) {
	a.Mode = b.Read32()
	a.UID = b.Read32()
	a.GID = b.Read32()
	a.Size = b.Read64()
	a.ATimeSec = b.Read64()
	a.ATimeNSec = b.Read64()
	a.MTimeSec = b.Read64()
	a.MTimeNSec = b.Read64()
}

// Statfs is the filesystem statistics record carried by Rstatfs,
// mirroring statfs(2).
type Statfs struct {
	Type    uint32
	BSize   uint32
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	FSID    uint64
	NameLen uint32
}

func (s *Statfs) encode(b *buffer) {
	b.Write32(s.Type)
	b.Write32(s.BSize)
	b.Write64(s.Blocks)
	b.Write64(s.BFree)
	b.Write64(s.BAvail)
	b.Write64(s.Files)
	b.Write64(s.FFree)
	b.Write64(s.FSID)
	b.Write32(s.NameLen)
}

func (s *Statfs) decode(b *buffer) {
	s.Type = b.Read32()
	s.BSize = b.Read32()
	s.Blocks = b.Read64()
	s.BFree = b.Read64()
	s.BAvail = b.Read64()
	s.Files = b.Read64()
	s.FFree = b.Read64()
	s.FSID = b.Read64()
	s.NameLen = b.Read32()
}

// Dirent is one directory entry in an Rreaddir payload. Offset is an
// opaque cursor a client passes back in the next Treaddir.
type Dirent struct {
	Qid    Qid
	Offset uint64
	Type   uint8
	Name   string
}

func (d *Dirent) encode(b *buffer) {
	b.WriteQid(d.Qid)
	b.Write64(d.Offset)
	b.Write8(d.Type)
	b.WriteString(d.Name)
}

func (d *Dirent) decode(b *buffer) {
	d.Qid = b.ReadQid()
	d.Offset = b.Read64()
	d.Type = b.Read8()
	d.Name = b.ReadString()
}

// wireSize returns the encoded byte length of the entry, used when
// packing entries up to a client-supplied count.
func (d *Dirent) wireSize() uint32 {
	return 13 + 8 + 1 + 2 + uint32(len(d.Name))
}

// direntType maps a file mode to the Linux d_type value reported in
// directory entries.
func direntType(mode os.FileMode) uint8 {
	switch {
	case mode.IsDir():
		return DTDir
	case mode&os.ModeSymlink != 0:
		return DTSymlink
	case mode&os.ModeNamedPipe != 0:
		return DTFifo
	case mode&os.ModeSocket != 0:
		return DTSocket
	case mode&os.ModeCharDevice != 0:
		return DTChar
	case mode&os.ModeDevice != 0:
		return DTBlock
	case mode.IsRegular():
		return DTRegular
	default:
		return DTUnknown
	}
}

// qidType maps a file mode to the Qid type bits.
func qidType(mode os.FileMode) QidType {
	switch {
	case mode.IsDir():
		return QTDIR
	case mode&os.ModeSymlink != 0:
		return QTSYMLINK
	case mode&os.ModeAppend != 0:
		return QTAPPEND
	case mode&os.ModeExclusive != 0:
		return QTEXCL
	case mode&os.ModeTemporary != 0:
		return QTTMP
	default:
		return QTFILE
	}
}

// unixMode converts a Go file mode to the Linux st_mode value carried
// in Attr.Mode.
func unixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		m |= 0x4000 // S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= 0xa000 // S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= 0x1000 // S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= 0xc000 // S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		m |= 0x2000 // S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= 0x6000 // S_IFBLK
	default:
		m |= 0x8000 // S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		m |= 0x800
	}
	if mode&os.ModeSetgid != 0 {
		m |= 0x400
	}
	if mode&os.ModeSticky != 0 {
		m |= 0x200
	}
	return m
}

// goFileMode converts a Linux st_mode permission value from the wire
// to a Go file mode. Only permission and type bits the backend can
// honor are translated.
func goFileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)
	if mode&0x800 != 0 {
		m |= os.ModeSetuid
	}
	if mode&0x400 != 0 {
		m |= os.ModeSetgid
	}
	if mode&0x200 != 0 {
		m |= os.ModeSticky
	}
	return m
}
