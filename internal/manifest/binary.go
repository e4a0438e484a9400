package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/segdb/internal/conv"
	"github.com/hupe1980/segdb/internal/hash"
	"github.com/hupe1980/segdb/model"
)

const (
	binaryMagic   = 0x53474442 // "SGDB"
	binaryVersion = 1
	headerSize    = 16
)

// WriteBinary writes the manifest in binary format (see package docs).
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(m.Segments)*96))

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(uint64(m.NextSegmentID))
	pb.writeUint64(m.NextOrdinal)
	pb.writeLen(len(m.Segments))

	for _, s := range m.Segments {
		pb.writeUint64(uint64(s.ID))
		pb.writeUint64(s.Ordinal)
		pb.writeUint32(s.Version)
		pb.writeString(s.Path)
		pb.writeString(s.Compression)
		pb.writeLen(len(s.Tables))
		for _, t := range s.Tables {
			pb.writeString(t.Name)
			pb.writeUint32(t.Rows)
			pb.writeUint32(t.Deleted)
			pb.writeBloom(t.Keys)
		}
	}

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	size, err := conv.IntToUint32(len(payload))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(header[12:16], size)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if err := hash.Verify(payload, checksum); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.NextSegmentID = model.SegmentID(pb.readUint64())
	m.NextOrdinal = pb.readUint64()

	numSegments := pb.readUint32()
	for i := uint32(0); i < numSegments && pb.err == nil; i++ {
		s := SegmentInfo{
			ID:          model.SegmentID(pb.readUint64()),
			Ordinal:     pb.readUint64(),
			Version:     pb.readUint32(),
			Path:        pb.readString(),
			Compression: pb.readString(),
		}
		numTables := pb.readUint32()
		for j := uint32(0); j < numTables && pb.err == nil; j++ {
			s.Tables = append(s.Tables, TableInfo{
				Name:    pb.readString(),
				Rows:    pb.readUint32(),
				Deleted: pb.readUint32(),
				Keys:    pb.readBloom(),
			})
		}
		m.Segments = append(m.Segments, s)
	}

	if pb.err != nil {
		return nil, pb.err
	}

	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeLen(n int) {
	v, err := conv.IntToUint32(n)
	if err != nil {
		p.fail(err)
		return
	}
	p.writeUint32(v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2

	if p.pos+l > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}
