package column

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/internal/hash"
)

// Kind identifies the store a column file holds.
type Kind uint8

const (
	KindIDs     Kind = 1
	KindNumeric Kind = 2
	KindDict    Kind = 3
	KindLinks   Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindIDs:
		return "ids"
	case KindNumeric:
		return "numeric"
	case KindDict:
		return "dict"
	case KindLinks:
		return "links"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	magic      = 0x46434753 // "SGCF"
	version    = 1
	footerSize = 44

	// DefaultBlockSize is the uncompressed size at which blocks are cut.
	DefaultBlockSize = 64 << 10
)

// Options configures a Writer.
type Options struct {
	Compression Compression
	BlockSize   int
}

// DefaultOptions returns zstd with 64 KiB blocks.
func DefaultOptions() Options {
	return Options{Compression: CompressionZSTD, BlockSize: DefaultBlockSize}
}

type blockHandle struct {
	first uint64
	off   uint64
	size  uint64
}

// Writer appends records to a column file.
type Writer struct {
	w       io.Writer
	kind    Kind
	opts    Options
	block   []byte
	inBlock int
	records uint64
	off     uint64
	index   []blockHandle
	frame   []byte
	aux     []byte
	closed  bool
}

// NewWriter starts a column file of the given kind on w.
func NewWriter(w io.Writer, kind Kind, opts Options) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Writer{w: w, kind: kind, opts: opts}
}

// Records returns the number of records appended so far.
func (w *Writer) Records() uint64 { return w.records }

// AtBlockStart reports whether the next record opens a new block.
func (w *Writer) AtBlockStart() bool { return w.inBlock == 0 }

// SetAux sets the auxiliary section written on Close.
func (w *Writer) SetAux(aux []byte) { w.aux = aux }

// Append adds one record.
func (w *Writer) Append(rec []byte) error {
	if w.closed {
		return ErrClosed
	}
	w.block = binary.AppendUvarint(w.block, uint64(len(rec)))
	w.block = append(w.block, rec...)
	w.inBlock++
	w.records++
	if len(w.block) >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.off += uint64(n)
	return err
}

func (w *Writer) flushBlock() error {
	if w.inBlock == 0 {
		return nil
	}
	w.frame = appendBlock(w.frame[:0], w.block, w.opts.Compression)
	w.index = append(w.index, blockHandle{
		first: w.records - uint64(w.inBlock),
		off:   w.off,
		size:  uint64(len(w.frame)),
	})
	w.block = w.block[:0]
	w.inBlock = 0
	return w.write(w.frame)
}

// Close flushes the last block and writes aux, index and footer.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	if err := w.flushBlock(); err != nil {
		return err
	}

	auxOff, auxLen := w.off, uint64(0)
	if len(w.aux) > 0 {
		buf := hash.AppendCRC32C(append([]byte(nil), w.aux...), w.aux)
		auxLen = uint64(len(buf))
		if err := w.write(buf); err != nil {
			return err
		}
	}

	idx := binary.AppendUvarint(nil, uint64(len(w.index)))
	for _, h := range w.index {
		idx = binary.AppendUvarint(idx, h.first)
		idx = binary.AppendUvarint(idx, h.off)
		idx = binary.AppendUvarint(idx, h.size)
	}
	idx = hash.AppendCRC32C(idx, idx)
	indexOff := w.off
	if err := w.write(idx); err != nil {
		return err
	}

	f := make([]byte, 0, footerSize)
	f = binary.LittleEndian.AppendUint32(f, magic)
	f = binary.LittleEndian.AppendUint16(f, version)
	f = append(f, byte(w.kind), 0)
	f = binary.LittleEndian.AppendUint64(f, w.records)
	f = binary.LittleEndian.AppendUint64(f, auxOff)
	f = binary.LittleEndian.AppendUint32(f, uint32(auxLen))
	f = binary.LittleEndian.AppendUint64(f, indexOff)
	f = binary.LittleEndian.AppendUint32(f, uint32(len(idx)))
	f = hash.AppendCRC32C(f, f)
	return w.write(f)
}

// Reader reads a column file.
type Reader struct {
	blob    blobstore.Blob
	kind    Kind
	records uint64
	index   []blockHandle
	aux     []byte

	cached int
	recs   [][]byte
}

// Open reads the footer and index of a column file.
func Open(ctx context.Context, blob blobstore.Blob, kind Kind) (*Reader, error) {
	size := blob.Size()
	if size < footerSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, size)
	}
	f, err := readFull(ctx, blob, size-footerSize, footerSize)
	if err != nil {
		return nil, err
	}
	if err := hash.Verify(f[:40], binary.LittleEndian.Uint32(f[40:])); err != nil {
		return nil, fmt.Errorf("%w: footer", ErrChecksum)
	}
	if binary.LittleEndian.Uint32(f[0:]) != magic {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(f[4:]); v != version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
	}
	if got := Kind(f[6]); got != kind {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrKind, got, kind)
	}

	r := &Reader{
		blob:    blob,
		kind:    kind,
		records: binary.LittleEndian.Uint64(f[8:]),
		cached:  -1,
	}
	auxOff := binary.LittleEndian.Uint64(f[16:])
	auxLen := uint64(binary.LittleEndian.Uint32(f[24:]))
	indexOff := binary.LittleEndian.Uint64(f[28:])
	indexLen := uint64(binary.LittleEndian.Uint32(f[36:]))
	if indexLen < 4 || indexOff+indexLen > uint64(size) || auxOff+auxLen > indexOff {
		return nil, fmt.Errorf("%w: footer offsets", ErrCorrupt)
	}

	if auxLen > 0 {
		if auxLen < 4 {
			return nil, fmt.Errorf("%w: aux section", ErrCorrupt)
		}
		aux, err := readFull(ctx, blob, int64(auxOff), int64(auxLen))
		if err != nil {
			return nil, err
		}
		if err := hash.Verify(aux[:auxLen-4], binary.LittleEndian.Uint32(aux[auxLen-4:])); err != nil {
			return nil, fmt.Errorf("%w: aux", ErrChecksum)
		}
		r.aux = aux[:auxLen-4]
	}

	idx, err := readFull(ctx, blob, int64(indexOff), int64(indexLen))
	if err != nil {
		return nil, err
	}
	if err := hash.Verify(idx[:indexLen-4], binary.LittleEndian.Uint32(idx[indexLen-4:])); err != nil {
		return nil, fmt.Errorf("%w: index", ErrChecksum)
	}
	if r.index, err = parseIndex(idx[:indexLen-4]); err != nil {
		return nil, err
	}
	return r, nil
}

func parseIndex(b []byte) ([]blockHandle, error) {
	d := decoder{buf: b}
	n := d.uvarint()
	if d.err != nil || n > uint64(len(b)) {
		return nil, fmt.Errorf("%w: index", ErrCorrupt)
	}
	index := make([]blockHandle, n)
	for i := range index {
		index[i] = blockHandle{first: d.uvarint(), off: d.uvarint(), size: d.uvarint()}
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: index", ErrCorrupt)
	}
	return index, nil
}

func readFull(ctx context.Context, blob blobstore.Blob, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	got, err := blob.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return nil, err
	}
	if int64(got) != n {
		return nil, fmt.Errorf("%w: short read", ErrCorrupt)
	}
	return buf, nil
}

// Len returns the number of records.
func (r *Reader) Len() uint64 { return r.records }

// Aux returns the auxiliary section.
func (r *Reader) Aux() []byte { return r.aux }

// Close closes the underlying blob.
func (r *Reader) Close() error { return r.blob.Close() }

func (r *Reader) blockOf(i uint64) int {
	lo, hi := 0, len(r.index)
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		if r.index[m].first <= i {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo - 1
}

func (r *Reader) blockEnd(bi int) uint64 {
	if bi+1 < len(r.index) {
		return r.index[bi+1].first
	}
	return r.records
}

func (r *Reader) load(ctx context.Context, bi int) error {
	if bi == r.cached {
		return nil
	}
	h := r.index[bi]
	frame, err := readFull(ctx, r.blob, int64(h.off), int64(h.size))
	if err != nil {
		return err
	}
	raw, err := decodeBlock(frame)
	if err != nil {
		return err
	}
	want := int(r.blockEnd(bi) - h.first)
	recs := make([][]byte, 0, want)
	d := decoder{buf: raw}
	for len(d.buf) > 0 && d.err == nil {
		recs = append(recs, d.bytes())
	}
	if d.err != nil || len(recs) != want {
		return fmt.Errorf("%w: block %d holds %d records, want %d", ErrCorrupt, bi, len(recs), want)
	}
	r.recs = recs
	r.cached = bi
	return nil
}

// Get returns record i. The slice must not be modified.
func (r *Reader) Get(ctx context.Context, i uint64) ([]byte, error) {
	if i >= r.records {
		return nil, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, r.records)
	}
	bi := r.blockOf(i)
	if err := r.load(ctx, bi); err != nil {
		return nil, err
	}
	return r.recs[i-r.index[bi].first], nil
}

// BlockStart returns the ordinal of the first record in the block holding i.
func (r *Reader) BlockStart(i uint64) uint64 {
	if bi := r.blockOf(i); bi >= 0 {
		return r.index[bi].first
	}
	return 0
}

// searchBlocks returns the start ordinal of the last block beginning before
// limit whose first record satisfies below, or 0 if none does.
func (r *Reader) searchBlocks(ctx context.Context, limit uint64, below func(first []byte) (bool, error)) (uint64, error) {
	lo, hi := 0, 0
	for hi < len(r.index) && r.index[hi].first < limit {
		hi++
	}
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		rec, err := r.Get(ctx, r.index[m].first)
		if err != nil {
			return 0, err
		}
		ok, err := below(rec)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = m + 1
		} else {
			hi = m
		}
	}
	if lo == 0 {
		return 0, nil
	}
	return r.index[lo-1].first, nil
}

// Cursor iterates records sequentially.
type Cursor struct {
	r     *Reader
	next  uint64
	end   uint64
	ord   uint64
	rec   []byte
	first bool
	err   error
}

// Cursor returns a cursor positioned before record from.
func (r *Reader) Cursor(from uint64) *Cursor {
	return r.CursorRange(from, r.records)
}

// CursorRange returns a cursor over records [from, end).
func (r *Reader) CursorRange(from, end uint64) *Cursor {
	return &Cursor{r: r, next: from, end: min(end, r.records)}
}

// Next advances to the following record.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.next >= c.end {
		return false
	}
	bi := c.r.blockOf(c.next)
	if err := c.r.load(ctx, bi); err != nil {
		c.err = err
		return false
	}
	first := c.r.index[bi].first
	c.rec = c.r.recs[c.next-first]
	c.first = c.next == first
	c.ord = c.next
	c.next++
	return true
}

// Record returns the current record.
func (c *Cursor) Record() []byte { return c.rec }

// Ordinal returns the ordinal of the current record.
func (c *Cursor) Ordinal() uint64 { return c.ord }

// FirstInBlock reports whether the current record opens its block.
func (c *Cursor) FirstInBlock() bool { return c.first }

// Err returns the error that stopped the cursor.
func (c *Cursor) Err() error { return c.err }
