package bcts

import (
	"bufio"
	"bytes"
)

func Write(w Writer) ([]byte, error) {
	dByte := bytes.NewBuffer([]byte{})
	dBw := bufio.NewWriter(dByte)
	err := w.WriteBytes(dBw)
	if err != nil {
		return nil, err
	}
	err = dBw.Flush()
	if err != nil {
		return nil, err
	}
	return dByte.Bytes(), nil
}

func Read(data []byte, r Reader) error {
	return r.ReadBytes(bytes.NewReader(data))
}
