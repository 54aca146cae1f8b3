package bcts

import (
	"io"
)

// Writer is implemented by values that know their own binary layout.
type Writer interface {
	WriteBytes(w io.Writer) error
}

// Reader is implemented by pointers that can fill themselves from a binary layout.
type Reader interface {
	ReadBytes(r io.Reader) error
}

type ReadWriter interface {
	Reader
	Writer
}
