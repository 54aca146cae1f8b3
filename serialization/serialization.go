package serialization

import (
	"errors"
	"fmt"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/bcts"
	"github.com/iidesho/esbridge/crypto"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/sync"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var (
	log  = sbragi.WithLocalScope(sbragi.LevelInfo)
	json = jsoniter.ConfigDefault
)

const (
	Default = "default"
	Bytes   = "bytes"
	YAML    = "yaml"
	Binary  = "binary"
)

const (
	ContentTypeJson   = "application/json"
	ContentTypeYAML   = "application/yaml"
	ContentTypeBinary = "application/octet-stream"
)

var ErrUnknownFormat = errors.New("unknown serialization format")

// Codec is a symmetric pair of conversions between values and bytes.
type Codec struct {
	ContentType string
	Encode      func(v any) ([]byte, error)
	Decode      func(data []byte, v any) error
}

type Registry struct {
	codecs sync.Map[string, Codec]
}

// NewRegistry returns a registry holding the built in formats.
func NewRegistry() *Registry {
	r := &Registry{
		codecs: sync.NewMap[string, Codec](),
	}
	r.Register(Default, Codec{
		ContentType: ContentTypeJson,
		Encode:      json.Marshal,
		Decode:      json.Unmarshal,
	})
	r.Register(Bytes, Codec{
		ContentType: ContentTypeBinary,
		Encode:      encodeBytes,
		Decode:      decodeBytes,
	})
	r.Register(YAML, Codec{
		ContentType: ContentTypeYAML,
		Encode:      yaml.Marshal,
		Decode:      yaml.Unmarshal,
	})
	r.Register(Binary, Codec{
		ContentType: ContentTypeBinary,
		Encode:      encodeBinary,
		Decode:      decodeBinary,
	})
	return r
}

// Register adds or replaces the codec for tag, the last registration wins.
func (r *Registry) Register(tag string, c Codec) {
	if _, existed := r.codecs.Get(tag); existed {
		log.Debug("replacing serialization format", "format", tag)
	}
	r.codecs.Set(tag, c)
}

func (r *Registry) Has(tag string) bool {
	_, ok := r.codecs.Get(normalize(tag))
	return ok
}

func (r *Registry) Codec(tag string) (Codec, error) {
	c, ok := r.codecs.Get(normalize(tag))
	if !ok {
		return Codec{}, &result.Error{
			Kind:  result.PreconditionViolation,
			Cause: fmt.Errorf("%w: %q", ErrUnknownFormat, tag),
		}
	}
	return c, nil
}

func (r *Registry) Encode(v any, tag string) ([]byte, error) {
	c, err := r.Codec(tag)
	if err != nil {
		return nil, err
	}
	return c.Encode(v)
}

func (r *Registry) Decode(data []byte, tag string, v any) error {
	c, err := r.Codec(tag)
	if err != nil {
		return err
	}
	return c.Decode(data, v)
}

func normalize(tag string) string {
	if tag == "" {
		return Default
	}
	return tag
}

// Encrypted wraps inner so everything it encodes is sealed with a key derived from passphrase.
func Encrypted(inner Codec, passphrase string) Codec {
	key := crypto.Key(passphrase)
	return Codec{
		ContentType: ContentTypeBinary,
		Encode: func(v any) ([]byte, error) {
			data, err := inner.Encode(v)
			if err != nil {
				return nil, err
			}
			return crypto.Encrypt(data, key)
		},
		Decode: func(data []byte, v any) error {
			plain, err := crypto.Decrypt(data, key)
			if err != nil {
				return err
			}
			return inner.Decode(plain, v)
		},
	}
}

func encodeBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("bytes format can not encode %T", v)
}

func decodeBytes(data []byte, v any) error {
	switch b := v.(type) {
	case *[]byte:
		*b = append([]byte(nil), data...)
		return nil
	case *string:
		*b = string(data)
		return nil
	case *any:
		*b = append([]byte(nil), data...)
		return nil
	}
	return fmt.Errorf("bytes format can not decode into %T", v)
}

func encodeBinary(v any) ([]byte, error) {
	w, ok := v.(bcts.Writer)
	if !ok {
		return nil, fmt.Errorf("binary format can not encode %T, it does not implement bcts.Writer", v)
	}
	return bcts.Write(w)
}

func decodeBinary(data []byte, v any) error {
	r, ok := v.(bcts.Reader)
	if !ok {
		return fmt.Errorf("binary format can not decode into %T, it does not implement bcts.Reader", v)
	}
	return bcts.Read(data, r)
}
