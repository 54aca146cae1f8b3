package serialization

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/iidesho/esbridge/bcts"
	"github.com/iidesho/esbridge/result"
)

type dd struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func (d dd) WriteBytes(w io.Writer) error {
	err := bcts.WriteSmallString(w, d.Name)
	if err != nil {
		return err
	}
	return bcts.WriteInt64(w, int64(d.Count))
}

func (d *dd) ReadBytes(r io.Reader) error {
	err := bcts.ReadSmallString(r, &d.Name)
	if err != nil {
		return err
	}
	var c int64
	err = bcts.ReadInt64(r, &c)
	d.Count = int(c)
	return err
}

var reg = NewRegistry()

func TestRoundTrip(t *testing.T) {
	in := dd{Name: "test", Count: 3}
	for _, format := range []string{Default, YAML, Binary, ""} {
		data, err := reg.Encode(in, format)
		if err != nil {
			t.Fatal(format, err)
		}
		var out dd
		err = reg.Decode(data, format, &out)
		if err != nil {
			t.Fatal(format, err)
		}
		if out != in {
			t.Error("round trip changed value", "format", format, "out", out)
		}
	}
}

func TestBytesIdentity(t *testing.T) {
	in := []byte{0, 1, 2, 255}
	data, err := reg.Encode(in, Bytes)
	if err != nil {
		t.Fatal(err)
	}
	var out []byte
	err = reg.Decode(data, Bytes, &out)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatal("bytes changed", out)
	}
	_, err = reg.Encode(dd{}, Bytes)
	if err == nil {
		t.Fatal("bytes format accepted a struct")
	}
}

func TestBinaryRequiresBcts(t *testing.T) {
	_, err := reg.Encode(map[string]int{}, Binary)
	if err == nil {
		t.Fatal("binary format accepted a map")
	}
}

func TestUnknownFormat(t *testing.T) {
	_, err := reg.Encode(dd{}, "protobuf")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatal("expected unknown format", err)
	}
	if !errors.Is(err, result.ErrPreconditionViolation) {
		t.Fatal("unknown format should be a precondition violation", err)
	}
	if reg.Has("protobuf") {
		t.Fatal("registry claims an unregistered format")
	}
	if !reg.Has("") {
		t.Fatal("empty format should resolve to default")
	}
}

func TestRegisterLastWins(t *testing.T) {
	r := NewRegistry()
	r.Register("upper", Codec{
		Encode: func(v any) ([]byte, error) { return []byte("first"), nil },
		Decode: func(data []byte, v any) error { return nil },
	})
	r.Register("upper", Codec{
		Encode: func(v any) ([]byte, error) { return []byte("second"), nil },
		Decode: func(data []byte, v any) error { return nil },
	})
	data, err := r.Encode(nil, "upper")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Fatal("last registration did not win", string(data))
	}
}

func TestConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("dyn", r.mustCodec(t, Default))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Encode(dd{}, Default)
		}()
	}
	wg.Wait()
	if !r.Has("dyn") {
		t.Fatal("format missing after concurrent registration")
	}
}

func (r *Registry) mustCodec(t *testing.T, tag string) Codec {
	c, err := r.Codec(tag)
	if err != nil {
		t.Error(err)
	}
	return c
}

func TestEncrypted(t *testing.T) {
	r := NewRegistry()
	r.Register("sealed", Encrypted(r.mustCodec(t, Default), "passphrase"))
	in := dd{Name: "secret", Count: 1}
	data, err := r.Encode(in, "sealed")
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := r.Encode(in, Default)
	if string(data) == string(plain) {
		t.Fatal("data was not encrypted")
	}
	var out dd
	err = r.Decode(data, "sealed", &out)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatal("round trip changed value", out)
	}
	r.Register("wrong", Encrypted(r.mustCodec(t, Default), "other"))
	if r.Decode(data, "wrong", &out) == nil {
		t.Fatal("decrypted with the wrong passphrase")
	}
}
