package event

import (
	"github.com/gofrs/uuid"
	log "github.com/iidesho/bragi/sbragi"
)

type builder[DT, MT any] struct {
	Id       uuid.UUID
	Type     Type
	Data     DT
	Metadata MT
}

type Builder[DT, MT any] interface {
	WithId(id uuid.UUID) builder[DT, MT]
	WithType(t Type) builder[DT, MT]
	WithData(data DT) builder[DT, MT]
	WithMetadata(data MT) builder[DT, MT]
	Build() (ev Event[DT, MT], err error)
}

func NewBuilder[DT, MT any]() Builder[DT, MT] {
	return builder[DT, MT]{}
}

func (e builder[DT, MT]) WithId(id uuid.UUID) builder[DT, MT] {
	e.Id = id
	return e
}

func (e builder[DT, MT]) WithType(t Type) builder[DT, MT] {
	e.Type = t
	return e
}

func (e builder[DT, MT]) WithData(data DT) builder[DT, MT] {
	e.Data = data
	return e
}

func (e builder[DT, MT]) WithMetadata(data MT) builder[DT, MT] {
	e.Metadata = data
	return e
}

// Build validates the event and gives it a time ordered id if none was set.
func (e builder[DT, MT]) Build() (ev Event[DT, MT], err error) {
	if e.Type == "" {
		log.Error("missing event type in builder")
		err = MissingTypeError
		return
	}
	if e.Id.IsNil() {
		e.Id, err = uuid.NewV7()
		if log.WithError(err).Error("generating event id") {
			return
		}
	}
	ev = Event[DT, MT]{
		Id:       e.Id,
		Type:     e.Type,
		Data:     e.Data,
		Metadata: e.Metadata,
	}
	return
}
