package bcts

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid"
)

const (
	maxUint8  = ^uint8(0)
	maxUint16 = ^uint16(0)
	maxUint32 = ^uint32(0)
)

func WriteBool(w io.Writer, b bool) error {
	if b {
		return WriteUInt8(w, uint8(1))
	}
	return WriteUInt8(w, uint8(0))
}

func WriteInt64[T ~int64](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, int64(i))
}

func WriteUInt64[T ~uint64](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, uint64(i))
}

func WriteUInt32[T ~uint32](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, uint32(i))
}

func WriteUInt16[T ~uint16](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, uint16(i))
}

func WriteUInt8[T ~uint8](w io.Writer, i T) error {
	return binary.Write(w, binary.LittleEndian, uint8(i))
}

func WriteTinyString[T ~string](w io.Writer, s T) error {
	if len(s) > int(maxUint8) {
		return fmt.Errorf("string is longer than max length of a tiny string")
	}
	err := WriteUInt8(w, uint8(len(s)))
	if err != nil {
		return err
	}
	return writeAll(w, []byte(s))
}

func WriteSmallString[T ~string](w io.Writer, s T) error {
	if len(s) > int(maxUint16) {
		return fmt.Errorf("string is longer than max length of a small string")
	}
	err := WriteUInt16(w, uint16(len(s)))
	if err != nil {
		return err
	}
	return writeAll(w, []byte(s))
}

func WriteString[T ~string](w io.Writer, s T) error {
	if uint64(len(s)) > uint64(maxUint32) {
		return fmt.Errorf("string is longer than max length of a long string")
	}
	err := WriteUInt32(w, uint32(len(s)))
	if err != nil {
		return err
	}
	return writeAll(w, []byte(s))
}

func WriteBytes(w io.Writer, b []byte) error {
	if uint64(len(b)) > uint64(maxUint32) {
		return fmt.Errorf("byte slice is longer than max length of a byte slice")
	}
	err := WriteUInt32(w, uint32(len(b)))
	if err != nil {
		return err
	}
	return writeAll(w, b)
}

func WriteStaticBytes(w io.Writer, b []byte) error {
	return writeAll(w, b)
}

func WriteUUID(w io.Writer, u uuid.UUID) error {
	return writeAll(w, u[:])
}

// WriteTime stores nanoseconds since epoch, the zero time round trips as zero.
func WriteTime(w io.Writer, t time.Time) error {
	if t.IsZero() {
		return WriteInt64(w, int64(0))
	}
	return WriteInt64(w, t.UTC().UnixNano())
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
