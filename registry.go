package openivs

import (
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Module is the single entry point every node type implements. Rather than
// a deep class hierarchy with virtual dispatch per operation, every module
// is a tagged variant reached through this one method (§9 design note).
type Module interface {
	// Process consumes the main input channel (images/results already
	// paired and routed by the executor) and returns the main output
	// channel plus any extra output channels.
	Process(in ModuleChannel) (ModuleIO, error)
}

// ModelLoader is implemented by model/* modules so the executor's
// pre-load pass can eagerly populate the model pool.
type ModelLoader interface {
	LoadModel() error
}

// Factory builds a fresh module instance for one node. A fresh instance is
// created per Run/LoadModels call (§5); any state that must survive across
// runs belongs in the model pool, not the module.
type Factory func(node *Node, ec *ExecutionContext) Module

var registry = map[string]Factory{}

// Register adds a factory to the type->factory table. Modules call this
// from an init() in their own file, mirroring the teacher's
// pluginProviders["plugin"/"yaegi"] = ... registration idiom and the
// original DLCV_FLOW_REGISTER_MODULE macro it replaces. Re-registering a
// type overwrites the previous factory (last registration wins).
func Register(nodeType string, factory Factory) {
	registry[strings.ToLower(nodeType)] = factory
}

// lookup returns the factory for a node type, or (nil, false) if the type
// is unrecognized — callers must skip the node silently per §4.1 step 1.
func lookup(nodeType string) (Factory, bool) {
	f, ok := registry[strings.ToLower(nodeType)]
	return f, ok
}

// BaseModule bundles the fields and best-effort property readers every
// concrete module embeds, the Go analogue of BaseModule.h. Property reads
// never fail loudly: a malformed or absent property returns the supplied
// default, per §7's "treat malformed as absent" contract.
type BaseModule struct {
	NodeID     int
	Title      string
	Properties map[string]interface{}
	Context    *ExecutionContext

	// ExtraInputsIn holds the extra input channels (pair index >= 1) the
	// executor collected for this node, in pair order.
	ExtraInputsIn []ModuleChannel
	// MainTemplateList is the main input pair's template list.
	MainTemplateList []Template

	// ScalarInputsByIndex / ScalarInputsByName are the two lookup tables
	// the executor injects scalar inputs into (§4.1, §9).
	ScalarInputsByIndex []Scalar
	ScalarInputsByName  map[string]Scalar
	// ScalarOutputsByName is populated by Process to publish scalar
	// outputs; the executor reads it back to normalize by declared port
	// type.
	ScalarOutputsByName map[string]Scalar
}

// NewBaseModule constructs a BaseModule from a Node record.
func NewBaseModule(node *Node, ec *ExecutionContext) BaseModule {
	return BaseModule{
		NodeID:              node.ID,
		Title:               node.Title,
		Properties:          node.Properties,
		Context:             ec,
		ScalarOutputsByName: map[string]Scalar{},
	}
}

// Decode best-effort decodes Properties into dst using mapstructure,
// ignoring unknown keys and swallowing decode errors for the same reason
// property readers swallow them: a malformed optional field must not
// abort the module.
func (b *BaseModule) Decode(dst interface{}) {
	_ = mapstructure.Decode(b.Properties, dst)
}

// ReadString returns Properties[key] coerced to a string, or def.
func (b *BaseModule) ReadString(key, def string) string {
	v, ok := b.Properties[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return def
	}
}

// ReadInt returns Properties[key] coerced to an int, or def.
func (b *BaseModule) ReadInt(key string, def int) int {
	v, ok := b.Properties[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// ReadDouble returns Properties[key] coerced to a float64, or def.
func (b *BaseModule) ReadDouble(key string, def float64) float64 {
	v, ok := b.Properties[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// ReadBool returns Properties[key] coerced to a bool, or def.
func (b *BaseModule) ReadBool(key string, def bool) bool {
	v, ok := b.Properties[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	case float64:
		return t != 0
	}
	return def
}

// ReadIntPair returns a pair of ints from a 2-element array or a
// "a,b"/"a;b"/"a b" separated string property, or (dv1, dv2) on any
// malformed input.
func (b *BaseModule) ReadIntPair(key string, dv1, dv2 int) (int, int) {
	v, ok := b.Properties[key]
	if !ok {
		return dv1, dv2
	}
	switch t := v.(type) {
	case []interface{}:
		if len(t) >= 2 {
			a, aok := toInt(t[0])
			c, cok := toInt(t[1])
			if aok && cok {
				return a, c
			}
		}
	case string:
		fields := strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == ';' || r == ' '
		})
		if len(fields) >= 2 {
			a, aerr := strconv.Atoi(strings.TrimSpace(fields[0]))
			c, cerr := strconv.Atoi(strings.TrimSpace(fields[1]))
			if aerr == nil && cerr == nil {
				return a, c
			}
		}
	}
	return dv1, dv2
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// BaseInputModule is embedded by input/* modules: Process ignores its
// input channel and calls Generate, matching BaseInputModule in the
// original source.
type BaseInputModule struct {
	BaseModule
	Generate func() (ModuleIO, error)
}

// Process implements Module by delegating to Generate.
func (b *BaseInputModule) Process(ModuleChannel) (ModuleIO, error) {
	return b.Generate()
}
