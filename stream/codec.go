package stream

import (
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

// Encode turns a caller event into the raw event the transport writes. Encoding failures are
// precondition violations, nothing has been sent yet.
func Encode[DT, MT any](conn *Conn, o Options, e event.Event[DT, MT]) (se store.Event, err error) {
	if e.Type == "" {
		return se, result.Precondition("%v", event.MissingTypeError)
	}
	codec, err := conn.registry.Codec(conn.format(o))
	if err != nil {
		return
	}
	se = store.Event{
		Id:          e.Id,
		Type:        string(e.Type),
		ContentType: codec.ContentType,
	}
	if se.Id.IsNil() {
		se.Id, err = uuid.NewV7()
		if err != nil {
			return
		}
	}
	se.Data, err = codec.Encode(e.Data)
	if err != nil {
		return se, result.Precondition("encoding %s event: %v", e.Type, err)
	}
	if any(e.Metadata) == nil {
		return
	}
	se.Metadata, err = conn.registry.Encode(e.Metadata, conn.metadataFormat(o))
	if err != nil {
		return se, result.Precondition("encoding %s event metadata: %v", e.Type, err)
	}
	return
}

func encodeAll[DT, MT any](conn *Conn, o Options, events []event.Event[DT, MT]) ([]store.Event, error) {
	out := make([]store.Event, len(events))
	for i, e := range events {
		se, err := Encode(conn, o, e)
		if err != nil {
			return nil, err
		}
		out[i] = se
	}
	return out, nil
}

// Decode runs one raw event through the read pipeline. Metadata is decoded first and handed to
// where, the payload is only decoded when where accepts the event. ok is false for rejected
// events.
func Decode[DT, MT any](
	conn *Conn,
	o Options,
	e store.ReadEvent,
	where func(event.Info[MT]) bool,
) (ev event.ReadEvent[DT, MT], ok bool, err error) {
	info := event.InfoFrom[MT](e)
	if len(e.Metadata) > 0 {
		err = conn.registry.Decode(e.Metadata, conn.metadataFormat(o), &info.Metadata)
		if err != nil {
			err = fmt.Errorf("decoding metadata of %d@%s: %w", e.Number, e.Stream, err)
			return
		}
	}
	if where != nil && !where(info) {
		return
	}
	ev.Info = info
	if len(e.Data) > 0 {
		err = conn.registry.Decode(e.Data, conn.format(o), &ev.Data)
		if err != nil {
			err = fmt.Errorf("decoding %d@%s: %w", e.Number, e.Stream, err)
			return
		}
	}
	return ev, true, nil
}

func decodeAll[DT, MT any](
	conn *Conn,
	o Options,
	events []store.ReadEvent,
	where func(event.Info[MT]) bool,
) ([]event.ReadEvent[DT, MT], error) {
	out := make([]event.ReadEvent[DT, MT], 0, len(events))
	for _, e := range events {
		ev, ok, err := Decode[DT, MT](conn, o, e, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	return out, nil
}
