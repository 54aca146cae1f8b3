package esbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iidesho/esbridge/config"
	"github.com/iidesho/esbridge/result"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event"
	"github.com/iidesho/esbridge/stream/event/store"
)

type dd struct {
	Name string `json:"name"`
}

func TestConnectInMemory(t *testing.T) {
	ctx := context.Background()
	conn, err := Connect(ctx, config.Config{
		Endpoint: "inmemory://esbridge_test",
		Username: "admin",
		Password: "changeit",
		Format:   "yaml",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(ctx)
	r, err := stream.Write(ctx, conn, stream.Options{Stream: "connect"}, event.Event[dd, any]{
		Type: event.Create,
		Data: dd{Name: "first"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = r.Await(time.Second); err != nil {
		t.Fatal(err)
	}
	rr, err := stream.Read[dd, any](ctx, conn, stream.ReadOptions[any]{Options: stream.Options{Stream: "connect"}, Count: 1})
	if err != nil {
		t.Fatal(err)
	}
	s, err := rr.Await(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Events) != 1 || s.Events[0].Data.Name != "first" || s.Events[0].ContentType != "application/yaml" {
		t.Fatal("unexpected read through configured connection", s.Events)
	}

	r, err = stream.Write(ctx, conn, stream.Options{
		Stream:      "connect",
		Credentials: &store.Credentials{Login: "admin", Password: "wrong"},
	}, event.Event[dd, any]{Type: event.Create})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = r.Await(time.Second); !errors.Is(err, result.ErrNotAuthenticated) {
		t.Fatal("wrong credentials accepted", err)
	}
}

func TestConnectRejectsUnknownEndpoint(t *testing.T) {
	for _, c := range []config.Config{
		{Endpoint: "http://localhost"},
		{Endpoint: "inmemory://"},
		{Endpoint: "inmemory://formats", Format: "nope"},
	} {
		if _, err := Connect(context.Background(), c, nil); !errors.Is(err, result.ErrPreconditionViolation) {
			t.Error("accepted invalid config", c.Endpoint, err)
		}
	}
}
