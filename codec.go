package abs9p

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// buffer is a cursor over one message body. All integers are
// little-endian and unsigned. Decode errors are sticky: once a read
// runs past the end of the frame or hits invalid data, every
// subsequent read is a no-op and err() reports the first failure.
type buffer struct {
	data []byte
	pos  int
	fail error
}

func newBuffer(data []byte) *buffer {
	return &buffer{data: data}
}

func (b *buffer) err() error { return b.fail }

func (b *buffer) setFailed(reason string) {
	if b.fail == nil {
		b.fail = &MalformedFrameError{Reason: reason}
	}
}

// remaining returns the unread byte count.
func (b *buffer) remaining() int {
	return len(b.data) - b.pos
}

func (b *buffer) read(n int) []byte {
	if b.fail != nil {
		return nil
	}
	if b.remaining() < n {
		b.setFailed("field length exceeds frame")
		return nil
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out
}

func (b *buffer) Read8() uint8 {
	p := b.read(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (b *buffer) Read16() uint16 {
	p := b.read(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (b *buffer) Read32() uint32 {
	p := b.read(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (b *buffer) Read64() uint64 {
	p := b.read(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// ReadString reads a u16-length-prefixed UTF-8 string.
func (b *buffer) ReadString() string {
	n := b.Read16()
	p := b.read(int(n))
	if p == nil {
		return ""
	}
	if !utf8.Valid(p) {
		b.setFailed("string field is not valid UTF-8")
		return ""
	}
	return string(p)
}

// ReadBlob reads a u32-length-prefixed byte blob. The returned slice
// aliases the frame; callers that retain it must copy.
func (b *buffer) ReadBlob() []byte {
	n := b.Read32()
	if int64(n) > int64(b.remaining()) {
		b.setFailed("blob length exceeds frame")
		return nil
	}
	return b.read(int(n))
}

func (b *buffer) ReadQid() Qid {
	return Qid{
		Type:    QidType(b.Read8()),
		Version: b.Read32(),
		Path:    b.Read64(),
	}
}

func (b *buffer) Write8(v uint8) {
	b.data = append(b.data, v)
}

func (b *buffer) Write16(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

func (b *buffer) Write32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

func (b *buffer) Write64(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}

func (b *buffer) WriteString(s string) {
	b.Write16(uint16(len(s)))
	b.data = append(b.data, s...)
}

func (b *buffer) WriteBlob(p []byte) {
	b.Write32(uint32(len(p)))
	b.data = append(b.data, p...)
}

func (b *buffer) WriteQid(q Qid) {
	b.Write8(uint8(q.Type))
	b.Write32(q.Version)
	b.Write64(q.Path)
}

// ReadFcall reads one frame from r and decodes it. maxSize caps the
// accepted frame size; after version negotiation callers pass the
// negotiated msize. Any decode failure is a *MalformedFrameError and
// is fatal to the connection: 9P framing has no resynchronization
// point.
func ReadFcall(r io.Reader, maxSize uint32) (Tag, Fcall, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	size := binary.LittleEndian.Uint32(hdr[0:4])
	if size < headerSize {
		return 0, nil, &MalformedFrameError{Reason: fmt.Sprintf("frame size %d below header size", size)}
	}
	if maxSize > 0 && size > maxSize {
		return 0, nil, &MalformedFrameError{Reason: fmt.Sprintf("frame size %d exceeds msize %d", size, maxSize)}
	}

	mt := MsgType(hdr[4])
	tag := Tag(binary.LittleEndian.Uint16(hdr[5:7]))

	body := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, &MalformedFrameError{Reason: fmt.Sprintf("truncated frame: %v", err)}
	}

	msg, err := newFcall(mt)
	if err != nil {
		return 0, nil, err
	}

	b := newBuffer(body)
	msg.decode(b)
	if err := b.err(); err != nil {
		return 0, nil, err
	}
	if b.remaining() != 0 {
		return 0, nil, &MalformedFrameError{Reason: fmt.Sprintf("%d trailing bytes after %s body", b.remaining(), mt)}
	}
	return tag, msg, nil
}

// WriteFcall encodes msg with the given tag and writes one frame to w.
// maxSize, when non-zero, is the negotiated msize; producing a larger
// frame is a programming error reported as *MalformedFrameError.
func WriteFcall(w io.Writer, tag Tag, msg Fcall) error {
	return writeFcallLimit(w, tag, msg, 0)
}

func writeFcallLimit(w io.Writer, tag Tag, msg Fcall, maxSize uint32) error {
	b := newBuffer(make([]byte, 0, 64))
	b.Write32(0) // frame size, patched below
	b.Write8(uint8(msg.messageType()))
	b.Write16(uint16(tag))
	msg.encode(b)

	size := uint32(len(b.data))
	if maxSize > 0 && size > maxSize {
		return &MalformedFrameError{Reason: fmt.Sprintf("encoded frame size %d exceeds msize %d", size, maxSize)}
	}
	binary.LittleEndian.PutUint32(b.data[0:4], size)

	_, err := w.Write(b.data)
	return err
}
