package abs9p

import "fmt"

// VersionString is the protocol dialect served by this package.
const VersionString = "9P2000.L"

// VersionUnknown is the reply sent when the client proposes a dialect
// the server does not speak.
const VersionUnknown = "unknown"

// DefaultMSize is the maximum message size offered by the server when
// the caller does not configure one. Large enough for 64KiB I/O plus
// the read/write header.
const DefaultMSize = 64*1024 + 24

// MinMSize is the smallest msize the server will negotiate. Below this
// even a Twalk with a single long name cannot be expressed.
const MinMSize = 4096

// headerSize is the fixed frame prefix: size[4] type[1] tag[2].
const headerSize = 7

// Fid is a client-assigned handle naming a position in the served tree.
// Fids are scoped to one connection.
type Fid uint32

// NOFID is the reserved "no fid" value, used for afid in an
// unauthenticated attach.
const NOFID Fid = 0xffffffff

// Tag identifies one in-flight request on a connection.
type Tag uint16

// NOTAG is the reserved tag used only by the version handshake.
const NOTAG Tag = 0xffff

// QidType describes the kind of filesystem object a Qid names.
type QidType uint8

// Qid type bits.
const (
	QTDIR     QidType = 0x80 // directory
	QTAPPEND  QidType = 0x40 // append-only file
	QTEXCL    QidType = 0x20 // exclusive-use file
	QTMOUNT   QidType = 0x10 // mounted channel
	QTAUTH    QidType = 0x08 // authentication file
	QTTMP     QidType = 0x04 // non-backed-up file
	QTSYMLINK QidType = 0x02 // symbolic link
	QTFILE    QidType = 0x00 // plain file
)

// Qid is the server's identification of a filesystem object,
// independent of how it was reached. Two walks that land on the same
// object must yield equal Qids.
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}

// String implements fmt.Stringer.
func (q Qid) String() string {
	return fmt.Sprintf("Qid{Type: 0x%02x, Version: %d, Path: %d}", uint8(q.Type), q.Version, q.Path)
}

// IsDir reports whether the Qid names a directory.
func (q Qid) IsDir() bool {
	return q.Type&QTDIR != 0
}

// MsgType is a 9P2000.L message type (opcode). Requests are even
// ("T" messages), their replies are the following odd value
// ("R" messages).
type MsgType uint8

// 9P2000.L message types, per the diod protocol description.
const (
	MsgRlerror     MsgType = 7
	MsgTstatfs     MsgType = 8
	MsgRstatfs     MsgType = 9
	MsgTlopen      MsgType = 12
	MsgRlopen      MsgType = 13
	MsgTlcreate    MsgType = 14
	MsgRlcreate    MsgType = 15
	MsgTsymlink    MsgType = 16
	MsgRsymlink    MsgType = 17
	MsgTmknod      MsgType = 18
	MsgRmknod      MsgType = 19
	MsgTrename     MsgType = 20
	MsgRrename     MsgType = 21
	MsgTreadlink   MsgType = 22
	MsgRreadlink   MsgType = 23
	MsgTgetattr    MsgType = 24
	MsgRgetattr    MsgType = 25
	MsgTsetattr    MsgType = 26
	MsgRsetattr    MsgType = 27
	MsgTxattrwalk  MsgType = 30
	MsgRxattrwalk  MsgType = 31
	MsgTxattrcreate MsgType = 32
	MsgRxattrcreate MsgType = 33
	MsgTreaddir    MsgType = 40
	MsgRreaddir    MsgType = 41
	MsgTfsync      MsgType = 50
	MsgRfsync      MsgType = 51
	MsgTlock       MsgType = 52
	MsgRlock       MsgType = 53
	MsgTgetlock    MsgType = 54
	MsgRgetlock    MsgType = 55
	MsgTlink       MsgType = 70
	MsgRlink       MsgType = 71
	MsgTmkdir      MsgType = 72
	MsgRmkdir      MsgType = 73
	MsgTrenameat   MsgType = 74
	MsgRrenameat   MsgType = 75
	MsgTunlinkat   MsgType = 76
	MsgRunlinkat   MsgType = 77
	MsgTversion    MsgType = 100
	MsgRversion    MsgType = 101
	MsgTauth       MsgType = 102
	MsgRauth       MsgType = 103
	MsgTattach     MsgType = 104
	MsgRattach     MsgType = 105
	MsgTflush      MsgType = 108
	MsgRflush      MsgType = 109
	MsgTwalk       MsgType = 110
	MsgRwalk       MsgType = 111
	MsgTread       MsgType = 116
	MsgRread       MsgType = 117
	MsgTwrite      MsgType = 118
	MsgRwrite      MsgType = 119
	MsgTclunk      MsgType = 120
	MsgRclunk      MsgType = 121
	MsgTremove     MsgType = 122
	MsgRremove     MsgType = 123
)

// Linux open(2) flag bits as they appear on the wire in Tlopen and
// Tlcreate. Only the bits the server interprets are listed; unknown
// bits are passed through to the backend.
const (
	OpenReadOnly  uint32 = 0x0
	OpenWriteOnly uint32 = 0x1
	OpenReadWrite uint32 = 0x2
	OpenAccMode   uint32 = 0x3

	OpenCreate   uint32 = 0x40
	OpenExcl     uint32 = 0x80
	OpenTrunc    uint32 = 0x200
	OpenAppend   uint32 = 0x400
	OpenNonblock uint32 = 0x800
	OpenDSync    uint32 = 0x1000
	OpenDirect   uint32 = 0x4000
	OpenLargefile uint32 = 0x8000
	OpenDirectory uint32 = 0x10000
	OpenNofollow  uint32 = 0x20000
	OpenSync      uint32 = 0x101000
)

// Directory entry type values (Dirent.Type), matching Linux d_type.
const (
	DTUnknown uint8 = 0
	DTFifo    uint8 = 1
	DTChar    uint8 = 2
	DTDir     uint8 = 4
	DTBlock   uint8 = 6
	DTRegular uint8 = 8
	DTSymlink uint8 = 10
	DTSocket  uint8 = 12
)

// Record lock types for Tlock/Tgetlock, matching Linux fcntl(2).
const (
	LockTypeRead   uint8 = 0 // F_RDLCK
	LockTypeWrite  uint8 = 1 // F_WRLCK
	LockTypeUnlock uint8 = 2 // F_UNLCK
)

// Tlock flag bits.
const (
	LockFlagBlock   uint32 = 1
	LockFlagReclaim uint32 = 2
)

// LockStatus is the result of a Tlock request.
type LockStatus uint8

// Rlock status values.
const (
	LockSuccess LockStatus = 0
	LockBlocked LockStatus = 1
	LockError   LockStatus = 2
	LockGrace   LockStatus = 3
)
