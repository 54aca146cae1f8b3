package result

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iidesho/bragi/sbragi"
	"github.com/iidesho/esbridge/metrics"
	"github.com/iidesho/esbridge/traces"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	log = sbragi.WithLocalScope(sbragi.LevelInfo)

	// DefaultTimeout bounds Await calls made without an explicit timeout.
	DefaultTimeout = 10 * time.Second

	metricsLock sync.Mutex
	opCount     *prometheus.CounterVec
	opTimeTotal *prometheus.CounterVec
)

// Result is a single eventual outcome. It resolves exactly once, either to a value or to a
// classified *Error, no matter how many sources race to resolve it.
type Result[T any] struct {
	op       string
	done     chan struct{}
	resolved atomic.Bool
	value    T
	err      *Error
}

// Resolver is the write side of a Result.
type Resolver[T any] struct {
	r     *Result[T]
	start time.Time
}

func New[T any](op string) (*Result[T], Resolver[T]) {
	r := &Result[T]{
		op:   op,
		done: make(chan struct{}),
	}
	return r, Resolver[T]{r: r, start: time.Now()}
}

// Succeed resolves the result with v. It returns false if the result was already resolved, the
// value is then discarded.
func (r Resolver[T]) Succeed(v T) bool {
	return r.r.resolve(v, nil, r.start)
}

// Fail resolves the result with the classified err. It returns false if the result was already
// resolved.
func (r Resolver[T]) Fail(err error) bool {
	if err == nil {
		err = errors.New("failure without cause")
	}
	var zero T
	return r.r.resolve(zero, Classify(err), r.start)
}

func (r *Result[T]) resolve(v T, err *Error, start time.Time) bool {
	if !r.resolved.CompareAndSwap(false, true) {
		log.Trace("discarding second resolution", "operation", r.op)
		return false
	}
	r.value, r.err = v, err
	close(r.done)
	observe(r.op, err, start)
	return true
}

// Succeeded returns an already resolved result.
func Succeeded[T any](op string, v T) *Result[T] {
	r, res := New[T](op)
	res.Succeed(v)
	return r
}

// Failed returns an already failed result.
func Failed[T any](op string, err error) *Result[T] {
	r, res := New[T](op)
	res.Fail(err)
	return r
}

// Identity is the transform for sources whose value needs no conversion.
func Identity[T any](v T) (T, error) {
	return v, nil
}

func complete[S, T any](res Resolver[T], s S, transform func(S) (T, error)) {
	v, err := transform(s)
	if err != nil {
		res.Fail(&Error{Kind: Other, Cause: err})
		return
	}
	res.Succeed(v)
}

// Go runs a blocking call on its own goroutine and bridges its outcome. ctx governs the
// underlying request, not how long callers wait for it.
func Go[S, T any](
	ctx context.Context,
	op string,
	call func(ctx context.Context) (S, error),
	transform func(S) (T, error),
) *Result[T] {
	r, res := New[T](op)
	go func() {
		ctx, span := traces.Tracer().Start(ctx, op)
		defer span.End()
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			err := fmt.Errorf("panic in %s: %v", op, p)
			log.WithError(err).Error("recovered bridged operation", "operation", op)
			span.SetStatus(codes.Error, err.Error())
			res.Fail(err)
		}()
		s, err := call(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("error.kind", string(KindOf(err))))
			res.Fail(err)
			return
		}
		complete(res, s, transform)
	}()
	return r
}

// FromCallbacks bridges a callback style one-shot primitive. register receives the success and
// failure handlers; whichever fires first resolves the result.
func FromCallbacks[S, T any](
	op string,
	register func(onSuccess func(S), onFailure func(error)),
	transform func(S) (T, error),
) *Result[T] {
	r, res := New[T](op)
	register(func(s S) {
		complete(res, s, transform)
	}, func(err error) {
		res.Fail(err)
	})
	return r
}

// Outcome is the single message of a channel based one-shot exchange.
type Outcome[S any] struct {
	Value S
	Err   error
}

var ErrNoOutcome = errors.New("channel closed without an outcome")

// FromChannel bridges a one-shot message exchange. Only the first message is used.
func FromChannel[S, T any](
	ctx context.Context,
	op string,
	ch <-chan Outcome[S],
	transform func(S) (T, error),
) *Result[T] {
	r, res := New[T](op)
	go func() {
		select {
		case <-ctx.Done():
			res.Fail(ctx.Err())
		case o, ok := <-ch:
			switch {
			case !ok:
				res.Fail(ErrNoOutcome)
			case o.Err != nil:
				res.Fail(o.Err)
			default:
				complete(res, o.Value, transform)
			}
		}
	}()
	return r
}

// Then chains a transform onto a result.
func Then[T, U any](r *Result[T], op string, fn func(T) (U, error)) *Result[U] {
	out, res := New[U](op)
	go func() {
		<-r.done
		if r.err != nil {
			res.Fail(r.err)
			return
		}
		complete(res, r.value, fn)
	}()
	return out
}

func (r *Result[T]) Op() string {
	return r.op
}

func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Peek returns the outcome without waiting, ok is false while unresolved.
func (r *Result[T]) Peek() (v T, ok bool, err error) {
	select {
	case <-r.done:
		v, err = r.get()
		return v, true, err
	default:
		return
	}
}

func (r *Result[T]) get() (T, error) {
	if r.err != nil {
		return r.value, r.err
	}
	return r.value, nil
}

// Await is the strict unwrap. It blocks up to timeout and returns either the value or a
// *Error. Running out of time yields a Timeout error; the request itself keeps running.
func (r *Result[T]) Await(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	select {
	case <-r.done:
		return r.get()
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.done:
		return r.get()
	case <-t.C:
		var zero T
		return zero, &Error{
			Kind:  Timeout,
			Cause: fmt.Errorf("%s did not resolve within %s", r.op, timeout),
		}
	}
}

// AwaitContext waits until the result resolves or ctx is done.
func (r *Result[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.get()
	case <-ctx.Done():
		var zero T
		return zero, &Error{
			Kind:  Timeout,
			Cause: fmt.Errorf("%s: %w", r.op, ctx.Err()),
		}
	}
}

// AwaitTolerant is the tolerant unwrap, failures come back as {"error-type", "error"}.
func (r *Result[T]) AwaitTolerant(timeout time.Duration) (T, map[string]any) {
	v, err := r.Await(timeout)
	if err != nil {
		return v, Classify(err).Map()
	}
	return v, nil
}

func observe(op string, err *Error, start time.Time) {
	count, timeTotal := loadMetrics()
	if count == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(err.Kind)
	}
	count.WithLabelValues(op, outcome).Inc()
	timeTotal.WithLabelValues(op).Add(float64(time.Since(start).Microseconds()))
}

func loadMetrics() (*prometheus.CounterVec, *prometheus.CounterVec) {
	metricsLock.Lock()
	defer metricsLock.Unlock()
	if opCount != nil || !metrics.Enabled() {
		return opCount, opTimeTotal
	}
	count, err := metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esbridge_operation_count",
		Help: "bridged operation count by outcome",
	}, []string{"operation", "outcome"}))
	if log.WithError(err).Error("registering operation count") {
		return nil, nil
	}
	timeTotal, err := metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esbridge_operation_time_total",
		Help: "bridged operation time total in microseconds",
	}, []string{"operation"}))
	if log.WithError(err).Error("registering operation time total") {
		return nil, nil
	}
	opCount, opTimeTotal = count, timeTotal
	return opCount, opTimeTotal
}
