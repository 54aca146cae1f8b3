package event

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Event is what callers write. Data and Metadata are encoded with the formats of the write.
type Event[DT, MT any] struct {
	Id       uuid.UUID `json:"id"`
	Type     Type      `json:"type"`
	Data     DT        `json:"data"`
	Metadata MT        `json:"metadata"`
}

// Info is everything known about a read event except its payload. Filters only ever see Info,
// so payloads of rejected events are never decoded.
type Info[MT any] struct {
	Id          uuid.UUID       `json:"id"`
	Type        Type            `json:"type"`
	Stream      string          `json:"stream"`
	Number      uint64          `json:"number"`
	Position    *store.Position `json:"position,omitempty"`
	Created     time.Time       `json:"created"`
	ContentType string          `json:"content_type"`
	Metadata    MT              `json:"metadata"`

	// Link is set when the event was reached through a link event.
	Link *LinkInfo `json:"link,omitempty"`
	// RetryCount is only non zero on persistent subscription redeliveries.
	RetryCount int `json:"retry_count"`
}

type LinkInfo struct {
	Stream string `json:"stream"`
	Number uint64 `json:"number"`
}

type ReadEvent[DT, MT any] struct {
	Info[MT]
	Data DT `json:"data"`
}

// InfoFrom builds everything but the metadata from a raw event.
func InfoFrom[MT any](e store.ReadEvent) Info[MT] {
	i := Info[MT]{
		Id:          e.Id,
		Type:        Type(e.Type),
		Stream:      e.Stream,
		Number:      e.Number,
		Position:    e.Position,
		Created:     e.Created,
		ContentType: e.ContentType,
		RetryCount:  e.RetryCount,
	}
	if e.Link != nil {
		i.Link = &LinkInfo{
			Stream: e.Link.Stream,
			Number: e.Link.Number,
		}
	}
	return i
}
