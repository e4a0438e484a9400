// Package manifest implements atomic manifest persistence for the segment store.
//
// # Overview
//
// The manifest is a snapshot of the database at a specific point in time. It
// lists the logical segments, the order in which they were committed, and the
// physical version directory currently holding each of them.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x53474442 ("SGDB")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID            (8 bytes) - Manifest version ID
//	  CreatedAt     (8 bytes) - Unix nanoseconds
//	  NextSegmentID (8 bytes)
//	  NextOrdinal   (8 bytes)
//	  NumSegments   (4 bytes)
//	  Segments[]
//	    ID, Ordinal (8 bytes each), Version (4 bytes), Path, Compression (string)
//	    NumTables (4 bytes)
//	    Tables[]: Name (string), Rows, Deleted (4 bytes each), Keys (bloom filter)
//
// Strings are length-prefixed (2-byte length + bytes).
//
// # Atomic Protocol
//
//  1. Write manifest blob to MANIFEST-NNNNNN.bin (where N is the version ID)
//  2. Atomically update CURRENT pointer file to reference the new manifest
//
// Load reads CURRENT to find the active manifest filename, then loads that file.
//
// All Store methods are protected by a mutex and safe for concurrent use.
package manifest
