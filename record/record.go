// Package record implements the on-disk frame format of a collection log.
//
// A frame is a fixed 32-byte little-endian header followed by an opaque
// payload. The header carries a magic number, format version, record type
// (active or tombstone), a flag bitfield, the total frame length, a write
// timestamp, and a CRC32 of the payload. Frames are written contiguously;
// a log file is a concatenation of frames starting at offset 0.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/rkapps/storage-core/pkg/fs"
)

// Frame layout constants.
const (
	// HeaderSize is the fixed size of a frame header in bytes.
	HeaderSize = 32

	// Magic identifies a frame header.
	Magic = 0xDEADBEEF

	// CurrentVersion is the newest format version this package reads and
	// the only version it writes.
	CurrentVersion = 1
)

// Record types.
const (
	// TypeActive marks a live record.
	TypeActive byte = 0x01
	// TypeDeleted marks a tombstone.
	TypeDeleted byte = 0x02
)

// Header flag bits. Unknown bits are preserved on read, never cleared.
const (
	FlagCompressed uint16 = 0x0001 // reserved
	FlagEncrypted  uint16 = 0x0002 // reserved
	FlagHasVector  uint16 = 0x0010
)

// Header field offsets (bytes from frame start).
const (
	offMagic      = 0  // uint32
	offVersion    = 4  // uint8
	offRecordType = 5  // uint8
	offFlags      = 6  // uint16
	offLength     = 8  // uint64, header + payload
	offTimestamp  = 16 // uint64, unix micros
	offCRC32      = 24 // uint32, payload only
	offReserved   = 28 // uint32, zero
)

// Classification sentinels. Wrapped errors carry context; callers classify
// with errors.Is.
var (
	// ErrInvalidMagic indicates the bytes at an offset are not a frame header.
	ErrInvalidMagic = errors.New("record: invalid magic")
	// ErrUnsupportedVersion indicates a frame written by a newer format.
	ErrUnsupportedVersion = errors.New("record: unsupported version")
	// ErrCorruptedData indicates a payload whose CRC does not match its header.
	ErrCorruptedData = errors.New("record: corrupted data")
	// ErrEndOfLog reports a clean end of file at a frame boundary. It is the
	// normal termination condition of a replay, not a failure.
	ErrEndOfLog = errors.New("record: end of log")
)

// CorruptedDataError reports a CRC mismatch for the frame at Offset.
// It matches [ErrCorruptedData] under errors.Is.
type CorruptedDataError struct {
	Offset   int64
	Expected uint32
	Actual   uint32
}

func (e *CorruptedDataError) Error() string {
	return fmt.Sprintf("record: corrupted data at offset %d (expected crc %08x got %08x)", e.Offset, e.Expected, e.Actual)
}

func (e *CorruptedDataError) Is(target error) bool {
	return target == ErrCorruptedData
}

// Header is the decoded 32-byte frame header.
type Header struct {
	Magic      uint32
	Version    byte
	RecordType byte
	Flags      uint16
	Length     uint64 // header + payload
	Timestamp  uint64 // microseconds since the unix epoch at write time
	CRC32      uint32 // IEEE CRC of the payload bytes only
	Reserved   uint32
}

// PayloadSize returns the payload length implied by the header.
func (h Header) PayloadSize() uint64 {
	return h.Length - HeaderSize
}

// HasFlag reports whether flag is set.
func (h Header) HasFlag(flag uint16) bool {
	return h.Flags&flag != 0
}

// encode serializes the header into a 32-byte slice.
func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	buf[offVersion] = h.Version
	buf[offRecordType] = h.RecordType
	binary.LittleEndian.PutUint16(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offLength:], h.Length)
	binary.LittleEndian.PutUint64(buf[offTimestamp:], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[offCRC32:], h.CRC32)
	binary.LittleEndian.PutUint32(buf[offReserved:], h.Reserved)

	return buf
}

// decodeHeader deserializes a 32-byte slice without validating it.
func decodeHeader(buf []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(buf[offMagic:]),
		Version:    buf[offVersion],
		RecordType: buf[offRecordType],
		Flags:      binary.LittleEndian.Uint16(buf[offFlags:]),
		Length:     binary.LittleEndian.Uint64(buf[offLength:]),
		Timestamp:  binary.LittleEndian.Uint64(buf[offTimestamp:]),
		CRC32:      binary.LittleEndian.Uint32(buf[offCRC32:]),
		Reserved:   binary.LittleEndian.Uint32(buf[offReserved:]),
	}
}

// validate checks the invariants a header must satisfy before its payload
// is read.
func (h Header) validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("magic %08x: %w", h.Magic, ErrInvalidMagic)
	}

	if h.Version > CurrentVersion {
		return fmt.Errorf("version %d: %w", h.Version, ErrUnsupportedVersion)
	}

	if h.Length < HeaderSize {
		return fmt.Errorf("length %d below header size: %w", h.Length, ErrInvalidMagic)
	}

	return nil
}

// WriteFrame appends one frame to f and returns the offset of its header.
//
// The frame is written at the current end of file: header first, payload
// after, with the CRC computed over the payload and the timestamp sampled
// at encoding time. The HAS_VECTOR flag is set iff hasVector.
//
// WriteFrame does not sync; durability is the caller's flush decision.
func WriteFrame(f fs.File, recordType byte, payload []byte, hasVector bool) (int64, error) {
	header := Header{
		Magic:      Magic,
		Version:    CurrentVersion,
		RecordType: recordType,
		Length:     HeaderSize + uint64(len(payload)),
		Timestamp:  uint64(time.Now().UnixMicro()),
		CRC32:      crc32.ChecksumIEEE(payload),
	}

	if hasVector {
		header.Flags |= FlagHasVector
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek end: %w", err)
	}

	_, err = f.Write(header.encode())
	if err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	_, err = f.Write(payload)
	if err != nil {
		return 0, fmt.Errorf("write payload: %w", err)
	}

	return offset, nil
}

// ReadFrame reads and validates the frame starting at offset.
//
// A clean end of file at the frame boundary returns [ErrEndOfLog]. A short
// read inside the frame is corruption for that frame and is reported as a
// wrapped [io.ErrUnexpectedEOF]. A payload whose CRC does not match the
// header returns a [*CorruptedDataError].
func ReadFrame(f fs.File, offset int64) (Header, []byte, error) {
	_, err := f.Seek(offset, io.SeekStart)
	if err != nil {
		return Header{}, nil, fmt.Errorf("seek %d: %w", offset, err)
	}

	buf := make([]byte, HeaderSize)

	_, err = io.ReadFull(f, buf)
	if err != nil {
		// io.ReadFull reports a zero-byte read as io.EOF and a partial
		// header as io.ErrUnexpectedEOF. Only the former is a frame boundary.
		if errors.Is(err, io.EOF) {
			return Header{}, nil, ErrEndOfLog
		}

		return Header{}, nil, fmt.Errorf("read header at %d: %w", offset, err)
	}

	header := decodeHeader(buf)

	err = header.validate()
	if err != nil {
		return Header{}, nil, fmt.Errorf("frame at %d: %w", offset, err)
	}

	// Guard the allocation: a length running past the file is a torn or
	// garbage frame, not a request for that many bytes.
	info, err := f.Stat()
	if err != nil {
		return Header{}, nil, fmt.Errorf("stat log: %w", err)
	}

	if header.Length > uint64(info.Size()-offset) {
		return Header{}, nil, fmt.Errorf("frame at %d: length %d exceeds file: %w", offset, header.Length, io.ErrUnexpectedEOF)
	}

	payload := make([]byte, header.PayloadSize())

	_, err = io.ReadFull(f, payload)
	if err != nil {
		return Header{}, nil, fmt.Errorf("read payload at %d: %w", offset, err)
	}

	checksum := crc32.ChecksumIEEE(payload)
	if checksum != header.CRC32 {
		return Header{}, nil, &CorruptedDataError{Offset: offset, Expected: header.CRC32, Actual: checksum}
	}

	return header, payload, nil
}
