package manifest

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter answers "definitely not here" for object keys of one segment
// table. A lookup for a key that is not in the filter can skip the segment.
type BloomFilter struct {
	bits    []uint64
	numBits uint64
	k       uint32
	count   uint32
}

// BloomFilterSize computes optimal bloom filter size for given parameters.
// Returns (numBits, numHashFunctions).
func BloomFilterSize(expectedElements int, falsePositiveRate float64) (numBits uint64, k uint32) {
	if expectedElements <= 0 {
		expectedElements = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p) / (ln(2)^2), k = (m/n) * ln(2)
	ln2Sq := math.Ln2 * math.Ln2
	m := float64(-expectedElements) * math.Log(falsePositiveRate) / ln2Sq
	kFloat := (m / float64(expectedElements)) * math.Ln2

	numBits = ((uint64(m) + 63) / 64) * 64
	if numBits < 64 {
		numBits = 64
	}

	k = uint32(math.Ceil(kFloat))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}

	return numBits, k
}

// NewBloomFilter creates a new Bloom filter with the specified size and hash count.
func NewBloomFilter(numBits uint64, k uint32) *BloomFilter {
	numBits = ((max(numBits, 64) + 63) / 64) * 64
	k = min(max(k, 1), 16)

	return &BloomFilter{
		bits:    make([]uint64, numBits/64),
		numBits: numBits,
		k:       k,
	}
}

// NewBloomFilterForSize creates a Bloom filter for the expected key count
// with approximately 1% false positive rate.
func NewBloomFilterForSize(expectedElements int) *BloomFilter {
	numBits, k := BloomFilterSize(expectedElements, 0.01)
	return NewBloomFilter(numBits, k)
}

// Add inserts a key. After Add(x), MayContain(x) always returns true.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bloomHash(key)
	for i := uint32(0); i < bf.k; i++ {
		bit := (h1 + uint64(i)*h2) % bf.numBits
		bf.bits[bit/64] |= 1 << (bit % 64)
	}
	bf.count++
}

// MayContain reports false when key is definitely not in the set.
func (bf *BloomFilter) MayContain(key []byte) bool {
	if bf == nil {
		return true
	}
	h1, h2 := bloomHash(key)
	for i := uint32(0); i < bf.k; i++ {
		bit := (h1 + uint64(i)*h2) % bf.numBits
		if bf.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of keys added to the filter.
func (bf *BloomFilter) Count() uint32 {
	return bf.count
}

// EstimatedFalsePositiveRate returns the estimated false positive rate
// based on the current fill ratio.
func (bf *BloomFilter) EstimatedFalsePositiveRate() float64 {
	if bf.count == 0 {
		return 0
	}
	// FPR ≈ (1 - e^(-k*n/m))^k
	kn := float64(bf.k) * float64(bf.count)
	m := float64(bf.numBits)
	return math.Pow(1-math.Exp(-kn/m), float64(bf.k))
}

// SizeBytes returns the memory size of the filter in bytes.
func (bf *BloomFilter) SizeBytes() int {
	return len(bf.bits) * 8
}

func (p *payloadBuffer) writeBloom(bf *BloomFilter) {
	if bf == nil {
		p.writeUint64(0)
		return
	}
	p.writeUint64(bf.numBits)
	p.writeUint32(bf.k)
	p.writeUint32(bf.count)
	for _, w := range bf.bits {
		p.writeUint64(w)
	}
}

func (p *payloadBuffer) readBloom() *BloomFilter {
	numBits := p.readUint64()
	if p.err != nil || numBits == 0 {
		return nil
	}
	k := p.readUint32()
	count := p.readUint32()
	if p.err != nil {
		return nil
	}
	if numBits%64 != 0 || k < 1 || k > 16 || numBits/8 > uint64(len(p.buf)-p.pos) {
		p.fail(ErrCorruptedBloomFilter)
		return nil
	}

	bits := make([]uint64, numBits/64)
	for i := range bits {
		bits[i] = p.readUint64()
	}
	return &BloomFilter{bits: bits, numBits: numBits, k: k, count: count}
}

// bloomHash derives the two double-hashing seeds from one xxhash sum.
func bloomHash(key []byte) (h1, h2 uint64) {
	h := xxhash.Sum64(key)
	h1 = h
	h2 = (h>>33 | h<<31) ^ 0x9e3779b97f4a7c15
	// odd h2 visits every bit position
	h2 |= 1
	return h1, h2
}
