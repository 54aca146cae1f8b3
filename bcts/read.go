package bcts

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/gofrs/uuid"
)

func ReadBool(r io.Reader, b *bool) error {
	var u uint8
	err := ReadUInt8(r, &u)
	if err != nil {
		return err
	}
	*b = u > 0
	return nil
}

func ReadInt64[T ~int64](r io.Reader, i *T) error {
	return binary.Read(r, binary.LittleEndian, i)
}

func ReadUInt64[T ~uint64](r io.Reader, i *T) error {
	return binary.Read(r, binary.LittleEndian, i)
}

func ReadUInt32[T ~uint32](r io.Reader, i *T) error {
	return binary.Read(r, binary.LittleEndian, i)
}

func ReadUInt16[T ~uint16](r io.Reader, i *T) error {
	return binary.Read(r, binary.LittleEndian, i)
}

func ReadUInt8[T ~uint8](r io.Reader, i *T) error {
	return binary.Read(r, binary.LittleEndian, i)
}

func ReadTinyString[T ~string](r io.Reader, s *T) error {
	var l uint8
	err := ReadUInt8(r, &l)
	if err != nil {
		return err
	}
	return readString(r, int(l), s)
}

func ReadSmallString[T ~string](r io.Reader, s *T) error {
	var l uint16
	err := ReadUInt16(r, &l)
	if err != nil {
		return err
	}
	return readString(r, int(l), s)
}

func ReadString[T ~string](r io.Reader, s *T) error {
	var l uint32
	err := ReadUInt32(r, &l)
	if err != nil {
		return err
	}
	return readString(r, int(l), s)
}

func readString[T ~string](r io.Reader, l int, s *T) error {
	buf := make([]byte, l)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return err
	}
	*s = T(buf)
	return nil
}

func ReadBytes[T ~[]byte](r io.Reader, b *T) error {
	var l uint32
	err := ReadUInt32(r, &l)
	if err != nil {
		return err
	}
	*b = make([]byte, l)
	_, err = io.ReadFull(r, *b)
	return err
}

func ReadStaticBytes[T ~[]byte](r io.Reader, b T) error {
	_, err := io.ReadFull(r, b)
	return err
}

func ReadUUID(r io.Reader, u *uuid.UUID) error {
	return ReadStaticBytes(r, u[:])
}

func ReadTime(r io.Reader, t *time.Time) error {
	var ns int64
	err := ReadInt64(r, &ns)
	if err != nil {
		return err
	}
	if ns == 0 {
		*t = time.Time{}
		return nil
	}
	*t = time.Unix(0, ns).UTC()
	return nil
}
