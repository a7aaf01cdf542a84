package openivs

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/mitchellh/copystructure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/dl-cv/OpenIVS")
	meter  = global.Meter("github.com/dl-cv/OpenIVS")

	nodeDuration, _ = meter.SyncFloat64().Histogram("openivs.node.duration_seconds")
	nodeErrors, _   = meter.SyncInt64().Counter("openivs.node.errors")
)

// Logger is called on a recovered node panic and on pre-load failures, the
// same single logging hook the teacher's own default panic handler uses
// (util.go: defaultOptions). Callers may override it; it defaults to
// log.Printf because the teacher never reaches for a structured-logging
// library either.
var Logger func(format string, args ...interface{}) = log.Printf

// moduleBase locates the *BaseModule embedded (directly, or via
// BaseInputModule) in a concrete Module so the executor can wire in the
// routing tables it built before calling Process. Modules that embed
// neither report (nil, false) and are run without the extra wiring.
func moduleBase(mod Module) (*BaseModule, bool) {
	v := reflect.ValueOf(mod)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return findBaseModule(v)
}

func findBaseModule(v reflect.Value) (*BaseModule, bool) {
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	if f := v.FieldByName("BaseModule"); f.IsValid() && f.Type() == reflect.TypeOf(BaseModule{}) && f.CanAddr() {
		return f.Addr().Interface().(*BaseModule), true
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.Anonymous || sf.Type.Kind() != reflect.Struct {
			continue
		}
		if bm, ok := findBaseModule(v.Field(i)); ok {
			return bm, true
		}
	}
	return nil, false
}

// dispatch wraps one node's Process call in the same cascade the executor
// applies to every node: span, metrics, a defensive deep copy of the input
// channel so a module can't corrupt data another goroutine still holds a
// reference to, and a panic recovery that turns a crash into a plain error
// instead of taking the whole run down.
func dispatch(ctx context.Context, n *Node, mod Module, in ModuleChannel) (out ModuleIO, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("node.id", n.ID),
		attribute.String("node.type", n.Type),
	}

	ctx, span := tracer.Start(ctx, n.Type, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	defer func() {
		nodeDuration.Record(ctx, time.Since(start).Seconds(), attrs...)
		if err != nil {
			span.RecordError(err)
			nodeErrors.Add(ctx, 1, attrs...)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			Logger("openivs: node %d (%s) panicked: %v", n.ID, n.Type, r)
		}
	}()

	inCopy := in
	if copied, cerr := copystructure.Copy(in); cerr == nil {
		if c, ok := copied.(ModuleChannel); ok {
			inCopy = c
		}
	}

	return mod.Process(inCopy)
}
