package traces

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const Name = "github.com/iidesho/esbridge"

// Tracer resolves the tracer on every call so a provider installed after start up is used.
func Tracer() trace.Tracer {
	return otel.Tracer(Name)
}
