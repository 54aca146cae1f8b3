package stream

import (
	"context"
	"time"

	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event/store"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigDefault

// StreamMetadata is the document stored in the metadata stream of a stream. Custom holds every
// property that is not one of the reserved $ properties.
type StreamMetadata struct {
	MaxCount       *int64
	MaxAge         *time.Duration
	TruncateBefore *uint64
	CacheControl   *time.Duration
	ACL            *ACL
	Custom         map[string]any
}

type ACL struct {
	Read      []string `json:"$r,omitempty"`
	Write     []string `json:"$w,omitempty"`
	Delete    []string `json:"$d,omitempty"`
	MetaRead  []string `json:"$mr,omitempty"`
	MetaWrite []string `json:"$mw,omitempty"`
}

const (
	maxCountKey       = "$maxCount"
	maxAgeKey         = "$maxAge"
	truncateBeforeKey = "$tb"
	cacheControlKey   = "$cacheControl"
	aclKey            = "$acl"
)

func seconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(*d / time.Second)
	return &s
}

func (m StreamMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Custom)+5)
	for k, v := range m.Custom {
		out[k] = v
	}
	if m.MaxCount != nil {
		out[maxCountKey] = *m.MaxCount
	}
	if s := seconds(m.MaxAge); s != nil {
		out[maxAgeKey] = *s
	}
	if m.TruncateBefore != nil {
		out[truncateBeforeKey] = *m.TruncateBefore
	}
	if s := seconds(m.CacheControl); s != nil {
		out[cacheControlKey] = *s
	}
	if m.ACL != nil {
		out[aclKey] = m.ACL
	}
	return json.Marshal(out)
}

func (m *StreamMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}
	*m = StreamMetadata{}
	for k, v := range raw {
		switch k {
		case maxCountKey:
			m.MaxCount = new(int64)
			err = json.Unmarshal(v, m.MaxCount)
		case maxAgeKey:
			var s int64
			err = json.Unmarshal(v, &s)
			d := time.Duration(s) * time.Second
			m.MaxAge = &d
		case truncateBeforeKey:
			m.TruncateBefore = new(uint64)
			err = json.Unmarshal(v, m.TruncateBefore)
		case cacheControlKey:
			var s int64
			err = json.Unmarshal(v, &s)
			d := time.Duration(s) * time.Second
			m.CacheControl = &d
		case aclKey:
			m.ACL = &ACL{}
			err = json.Unmarshal(v, m.ACL)
		default:
			if m.Custom == nil {
				m.Custom = make(map[string]any)
			}
			var c any
			err = json.Unmarshal(v, &c)
			m.Custom[k] = c
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type MetadataResult struct {
	Stream string `json:"stream"`
	// MetaVersion is the version of the metadata stream, -1 when no metadata was ever set.
	MetaVersion int64          `json:"meta_version"`
	Deleted     bool           `json:"deleted"`
	Metadata    StreamMetadata `json:"metadata"`
}

// SetMetadata replaces the metadata of a stream. The expected version of o is checked against
// the metadata stream.
func SetMetadata(ctx context.Context, conn *Conn, o Options, md StreamMetadata) (*result.Result[store.WriteResult], error) {
	if err := requireStream(o); err != nil {
		return nil, err
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, result.Precondition("encoding stream metadata: %v", err)
	}
	return result.Go(ctx, "set_stream_metadata", func(ctx context.Context) (store.WriteResult, error) {
		return conn.t.SetStreamMetadata(ctx, o.Stream, o.Expected(), data, conn.CallOptions(o))
	}, result.Identity[store.WriteResult]), nil
}

func GetMetadata(ctx context.Context, conn *Conn, o Options) (*result.Result[MetadataResult], error) {
	if err := requireStream(o); err != nil {
		return nil, err
	}
	return result.Go(ctx, "get_stream_metadata", func(ctx context.Context) (store.StreamMetadataResult, error) {
		return conn.t.GetStreamMetadata(ctx, o.Stream, conn.CallOptions(o))
	}, func(r store.StreamMetadataResult) (out MetadataResult, err error) {
		out = MetadataResult{
			Stream:      r.Stream,
			MetaVersion: r.MetaVersion,
			Deleted:     r.Deleted,
		}
		if len(r.Data) == 0 {
			return
		}
		err = json.Unmarshal(r.Data, &out.Metadata)
		return
	}), nil
}
