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
	"github.com/iidesho/esbridge/metrics"
	"github.com/iidesho/esbridge/serialization"
	"github.com/iidesho/esbridge/stream"
	"github.com/iidesho/esbridge/stream/event"
)

var STREAM_NAME = "BenchmarkStream_" + uuid.Must(uuid.NewV7()).String()

var (
	size      int
	eventSize int
	batch     int
	endpoint  string
	pushURL   string
)

func init() {
	const (
		defaultNumberOfEvents = 100000
		numberOfEventsUsage   = "sets the number of events to create and write"
		defaultEventSize      = 1000
		eventSizeUsage        = "event size in Bytes"
		defaultBatch          = 100
		batchUsage            = "events per append"
		endpointUsage         = "overrides eventstore.endpoint"
		pushUsage             = "pushgateway url, operation metrics are pushed there when set"
	)
	flag.IntVar(&size, "num", defaultNumberOfEvents, numberOfEventsUsage)
	flag.IntVar(&size, "n", defaultNumberOfEvents, numberOfEventsUsage+" (shorthand)")
	flag.IntVar(&eventSize, "size", defaultEventSize, eventSizeUsage)
	flag.IntVar(&eventSize, "s", defaultEventSize, eventSizeUsage+" (shorthand)")
	flag.IntVar(&batch, "batch", defaultBatch, batchUsage)
	flag.StringVar(&endpoint, "endpoint", "", endpointUsage)
	flag.StringVar(&pushURL, "push", "", pushUsage)
}

func report(msg string, start time.Time) {
	dur := time.Since(start)
	eps := float64(size) / dur.Seconds()
	log.Info(
		msg,
		"number of events", size,
		"duration", dur,
		"event size (B)", eventSize,
		"events / second", eps,
		"MB/s", eps*float64(eventSize)/1000000,
	)
}

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if endpoint != "" {
		os.Setenv(config.EndpointKey, endpoint)
	}
	if pushURL != "" {
		metrics.Init()
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

	start := time.Now()
	events := make([]event.Event[[]byte, map[string]string], batch)
	for i := range events {
		events[i] = event.Event[[]byte, map[string]string]{
			Type:     event.Create,
			Data:     make([]byte, eventSize),
			Metadata: map[string]string{"extra": "extra metadata test"},
		}
	}
	for written := 0; written < size; written += batch {
		n := min(batch, size-written)
		r, err := stream.Write(ctx, conn, o, events[:n]...)
		if err != nil {
			log.WithError(err).Fatal("while writing events")
			return
		}
		if _, err = r.Await(conn.Timeout()); err != nil {
			log.WithError(err).Fatal("while writing events")
			return
		}
	}
	report("Finished writing events", start)

	start = time.Now()
	r, err := stream.Reduce(ctx, conn, stream.ReduceOptions[map[string]string]{Options: o}, 0,
		func(acc int, e event.ReadEvent[[]byte, map[string]string]) int {
			return acc + len(e.Data)
		})
	if err != nil {
		log.WithError(err).Fatal("while reading events")
		return
	}
	red, err := r.AwaitContext(ctx)
	if err != nil {
		log.WithError(err).Fatal("while reading events")
		return
	}
	if red.Value != size*eventSize {
		log.Fatal("missmatch read bytes", "expected", size*eventSize, "read", red.Value)
		return
	}
	report("Finished reading events", start)
	if pushURL != "" {
		log.WithError(metrics.Push(pushURL, "esbridge_stream_benchmark")).Error("while pushing metrics")
	}
}
