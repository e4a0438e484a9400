package column

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShort = errors.New("short buffer")

// decoder reads varints from a buffer and latches the first error.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = errShort
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.err = errShort
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) bytes() []byte {
	n := d.uvarint()
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.buf)) {
		d.err = errShort
		return nil
	}
	b := d.buf[:n:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) check(what string) error {
	if d.err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, what, d.err)
	}
	return nil
}

// appendPostings encodes an ascending list as a count and deltas.
func appendPostings(dst []byte, ids []uint32) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(ids)))
	prev := uint32(0)
	for i, id := range ids {
		if i == 0 {
			dst = binary.AppendUvarint(dst, uint64(id))
		} else {
			dst = binary.AppendUvarint(dst, uint64(id-prev))
		}
		prev = id
	}
	return dst
}

func decodePostings(rec []byte, dst []uint32) ([]uint32, error) {
	d := decoder{buf: rec}
	n := d.uvarint()
	if d.err == nil && n > uint64(len(rec)) {
		d.err = errShort
	}
	dst = dst[:0]
	prev := uint32(0)
	for i := uint64(0); i < n && d.err == nil; i++ {
		v := uint32(d.uvarint())
		if i > 0 {
			v += prev
		}
		dst = append(dst, v)
		prev = v
	}
	return dst, d.check("postings")
}

// appendValues encodes int64 values as zigzag varints.
func appendValues(dst []byte, vals []int64) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(vals)))
	for _, v := range vals {
		dst = binary.AppendVarint(dst, v)
	}
	return dst
}

func decodeValues(rec []byte, dst []int64) ([]int64, error) {
	d := decoder{buf: rec}
	n := d.uvarint()
	if d.err == nil && n > uint64(len(rec)) {
		d.err = errShort
	}
	dst = dst[:0]
	for i := uint64(0); i < n && d.err == nil; i++ {
		dst = append(dst, d.varint())
	}
	return dst, d.check("values")
}

func sharedPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
