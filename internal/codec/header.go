package codec

import (
	"encoding/binary"

	"github.com/odi-dev/odi/internal/entity"
)

// Magic identifies an ODI object byte stream (spec.md §6).
var Magic = [4]byte{'O', 'D', 'I', 0x01}

// CurrentVersion is the canonical payload format version this build writes.
// Readers reject any version they do not recognize.
const CurrentVersion uint16 = 1

// Compressor tags the byte compressor applied to the payload, written
// immediately after the magic so a future implementation can add a new
// compressor without breaking readers of old objects.
type Compressor uint8

const (
	CompressorNone  Compressor = 0
	CompressorFlate Compressor = 1
)

// headerLen is the fixed-size prefix before the (compressed) payload:
// magic(4) + compressor(1) + version(2) + kind(2) + payload_length(8).
const headerLen = 4 + 1 + 2 + 2 + 8

type header struct {
	Compressor    Compressor
	Version       uint16
	Kind          entity.Kind
	PayloadLength uint64 // length of the compressed payload that follows
}

func writeHeader(buf []byte, h header) []byte {
	buf = append(buf, Magic[:]...)
	buf = append(buf, byte(h.Compressor))
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], h.Version)
	buf = append(buf, tmp[:2]...)
	binary.BigEndian.PutUint16(tmp[:2], uint16(h.Kind))
	buf = append(buf, tmp[:2]...)
	binary.BigEndian.PutUint64(tmp[:8], h.PayloadLength)
	buf = append(buf, tmp[:8]...)
	return buf
}

func readHeader(b []byte) (header, []byte, error) {
	if len(b) < headerLen {
		return header{}, nil, newDecodeError("truncated header: need %d bytes, have %d", headerLen, len(b))
	}
	if b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return header{}, nil, newDecodeError("bad magic")
	}
	h := header{
		Compressor:    Compressor(b[4]),
		Version:       binary.BigEndian.Uint16(b[5:7]),
		Kind:          entity.Kind(binary.BigEndian.Uint16(b[7:9])),
		PayloadLength: binary.BigEndian.Uint64(b[9:17]),
	}
	rest := b[headerLen:]
	if h.Version != CurrentVersion {
		return header{}, nil, newDecodeError("unsupported version %d", h.Version)
	}
	if uint64(len(rest)) != h.PayloadLength {
		return header{}, nil, newDecodeError("payload length mismatch: header says %d, have %d", h.PayloadLength, len(rest))
	}
	return h, rest, nil
}
