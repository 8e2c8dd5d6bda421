package bucket

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/xtxerr/seisd/internal/errors"
)

// Record format (binary, little-endian), one bucket per file:
// - Dirty flag (1 byte) + padding (7 bytes)
// - Last access, Unix ms (8 bytes)
// - Hour id (4 bytes, int32)
// - Sample count (4 bytes, int32)
// - Samples (slots * 4 bytes, int32)

// HeaderSize is the size of the record header preceding the samples.
const HeaderSize = 24

// RecordSize returns the exact file size of a bucket with the given slot count.
func RecordSize(slots int) int {
	return HeaderSize + slots*4
}

// Encode serializes the bucket into its file record. The dirty flag is
// written as stored.
func (b *Bucket) Encode() []byte {
	buf := make([]byte, HeaderSize, RecordSize(len(b.samples)))
	if b.dirty {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[8:16], uint64(b.lastAccess.UnixMilli()))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(b.hourID))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(b.count))

	for _, v := range b.samples {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}

// Decode parses a file record. The record must be exactly RecordSize(slots)
// bytes and must describe wantHour. The decoded bucket is clean.
func Decode(data []byte, wantHour int32, slots int) (*Bucket, error) {
	if len(data) != RecordSize(slots) {
		return nil, fmt.Errorf("got %d bytes, want %d: %w", len(data), RecordSize(slots), errors.ErrRecordSize)
	}

	hourID := int32(binary.LittleEndian.Uint32(data[16:20]))
	if hourID != wantHour {
		return nil, fmt.Errorf("record holds hour %d, want %d: %w", hourID, wantHour, errors.ErrHourMismatch)
	}

	count := int32(binary.LittleEndian.Uint32(data[20:24]))
	if count < 0 || int(count) > slots {
		return nil, fmt.Errorf("sample count %d out of range: %w", count, errors.ErrCorruptBucket)
	}

	b := &Bucket{
		hourID:     hourID,
		samples:    make([]int32, slots),
		count:      count,
		lastAccess: time.UnixMilli(int64(binary.LittleEndian.Uint64(data[8:16]))),
	}
	offset := HeaderSize
	for i := range b.samples {
		b.samples[i] = int32(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	}
	return b, nil
}
