package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge"
	"github.com/iidesho/esbridge/config"
	"github.com/iidesho/esbridge/serialization"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/consumer"
	"github.com/iidesho/esbridge/stream/event"
)

var STREAM_NAME = "BenchmarkConsumer_" + uuid.Must(uuid.NewV7()).String()

var (
	size      int
	eventSize int
	endpoint  string
)

func init() {
	flag.IntVar(&size, "n", 100000, "sets the number of events to create and write")
	flag.IntVar(&eventSize, "s", 1000, "event size in Bytes")
	flag.StringVar(&endpoint, "endpoint", "", "overrides eventstore.endpoint")
}

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if endpoint != "" {
		os.Setenv(config.EndpointKey, endpoint)
	}
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("while loading config")
		return
	}
	conn, err := esbridge.Connect(ctx, cfg, nil)
	if err != nil {
		log.WithError(err).Fatal("while connecting to storage")
		return
	}
	defer conn.Disconnect(ctx)
	o := stream.Options{Stream: STREAM_NAME, Format: serialization.Bytes}

	live := make(chan struct{})
	done := make(chan struct{})
	received := 0
	from := uint64(0)
	sub, err := consumer.Subscribe(ctx, conn, consumer.Options[[]byte, any]{
		Options: o,
		From:    &from,
		Handlers: consumer.Handlers[[]byte, any]{
			OnEvent: func(e event.ReadEvent[[]byte, any]) {
				received++
				if received == size {
					close(done)
				}
			},
			OnLiveStarted: func() { close(live) },
			OnError: func(err error) {
				log.WithError(err).Error("while consuming")
			},
		},
	})
	if err != nil {
		log.WithError(err).Fatal("while subscribing")
		return
	}
	defer sub.Close()
	<-live

	defer func(start time.Time) {
		dur := time.Since(start)
		eps := float64(size) / dur.Seconds()
		log.Info("Finished consuming events", "number of events", size, "duration", dur,
			"event size (B)", eventSize, "events / second", eps, "MB/s", eps*float64(eventSize)/1000000)
	}(time.Now())
	we := event.Event[[]byte, any]{
		Type: event.Create,
		Data: make([]byte, eventSize),
	}
	for i := 0; i < size; i++ {
		r, err := stream.Write(ctx, conn, o, we)
		if err != nil {
			log.WithError(err).Fatal("while writing event")
			return
		}
		if _, err = r.Await(conn.Timeout()); err != nil {
			log.WithError(err).Fatal("while writing event")
			return
		}
	}
	<-done
}
