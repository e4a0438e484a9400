// Package hash provides the checksums used by segdb's on-disk formats.
//
// Every column block, block index and manifest carries a CRC32-Castagnoli
// checksum. Go's hash/crc32 uses the SSE4.2 and ARMv8 CRC instructions for
// this polynomial when they are available.
//
//	sum := hash.CRC32C(block)
//	buf = hash.AppendCRC32C(buf, buf[start:])
//	if err := hash.Verify(payload, want); err != nil { ... }
package hash
