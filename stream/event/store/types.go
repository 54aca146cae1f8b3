package store

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

type Event struct {
	Id          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	Metadata    []byte    `json:"metadata"`
}

// ReadEvent is an event as the transport hands it back. Position is nil for events that
// precede positional indexing, Created is zero when unknown.
type ReadEvent struct {
	Event

	Stream     string     `json:"stream"`
	Number     uint64     `json:"number"`
	Position   *Position  `json:"position,omitempty"`
	Created    time.Time  `json:"created"`
	Link       *ReadEvent `json:"link,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// Original returns the event as recorded in the stream that was read. That is the link when the
// event was reached through one, Stream and Number of the original order deliveries.
func (e ReadEvent) Original() ReadEvent {
	if e.Link == nil {
		return e
	}
	return *e.Link
}

// Position identifies a point in the global log.
type Position struct {
	Commit  uint64 `json:"commit"`
	Prepare uint64 `json:"prepare"`
}

var (
	StartPosition = Position{}
	EndPosition   = Position{Commit: math.MaxUint64, Prepare: math.MaxUint64}
)

func (p Position) Compare(o Position) int {
	switch {
	case p.Commit < o.Commit:
		return -1
	case p.Commit > o.Commit:
		return 1
	case p.Prepare < o.Prepare:
		return -1
	case p.Prepare > o.Prepare:
		return 1
	}
	return 0
}

func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

// ExpectedVersion is either a concrete stream version (the number of the last event) or one
// of the sentinels.
type ExpectedVersion int64

const (
	Any          ExpectedVersion = -2
	NoStream     ExpectedVersion = -1
	StreamExists ExpectedVersion = -4
)

func Version(v uint64) ExpectedVersion {
	return ExpectedVersion(v)
}

func (v ExpectedVersion) IsSentinel() bool {
	return v < 0
}

// Matches reports if a stream with current version cur (-1 when it does not exist) satisfies v.
func (v ExpectedVersion) Matches(cur int64) bool {
	switch v {
	case Any:
		return true
	case NoStream:
		return cur == -1
	case StreamExists:
		return cur >= 0
	}
	return int64(v) == cur
}

func (v ExpectedVersion) Valid() bool {
	return v >= 0 || v == Any || v == NoStream || v == StreamExists
}

type Direction string

const (
	Forwards  Direction = "forward"
	Backwards Direction = "backward"
)

// StreamRevision selects a starting event number, End selects the most recent event.
type StreamRevision struct {
	Number uint64
	End    bool
}

func Revision(n uint64) StreamRevision {
	return StreamRevision{Number: n}
}

var (
	StreamStart = StreamRevision{}
	StreamEnd   = StreamRevision{End: true}
)

type Credentials struct {
	Login    string
	Password string
}

type CallOptions struct {
	Credentials   *Credentials
	RequireLeader bool
}

type ReadOptions struct {
	CallOptions
	ResolveLinks bool
}

type WriteResult struct {
	NextExpectedVersion int64    `json:"next_expected_version"`
	Position            Position `json:"position"`
}

type DeleteResult struct {
	Position Position `json:"position"`
}

// StreamSlice is a bounded window of a single stream.
type StreamSlice struct {
	Stream             string
	Direction          Direction
	From               uint64
	Events             []ReadEvent
	Next               uint64
	Last               uint64
	IsEnd              bool
	LastCommitPosition uint64
}

// AllSlice is a bounded window of the global log.
type AllSlice struct {
	Direction Direction
	From      Position
	Events    []ReadEvent
	Next      Position
	IsEnd     bool
}

type StreamMetadataResult struct {
	Stream      string
	MetaVersion int64
	Data        []byte
	Deleted     bool
}

const MetadataEventType = "$metadata"

func MetadataStream(stream string) string {
	return "$$" + stream
}

// LinkEventType marks events whose data points at an event in another stream, "number@stream".
const LinkEventType = "$>"

func LinkData(stream string, number uint64) []byte {
	return []byte(strconv.FormatUint(number, 10) + "@" + stream)
}

func ParseLink(data []byte) (stream string, number uint64, ok bool) {
	n, s, found := strings.Cut(string(data), "@")
	if !found || s == "" {
		return
	}
	number, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return
	}
	return s, number, true
}
