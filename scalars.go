package openivs

import "strings"

// ScalarKind discriminates the value carried by a Scalar (§9 design note:
// "a single enum(bool, int, string, json) discriminator captures every
// scalar kind").
type ScalarKind byte

const (
	ScalarBool ScalarKind = iota
	ScalarInt
	ScalarString
	ScalarJSON
)

// Scalar is one value on a scalar port, found in both the by-index and
// by-name lookup tables the executor builds for a node — both point at
// the same underlying value.
type Scalar struct {
	Kind  ScalarKind
	Value interface{}
}

// normalizeScalar coerces v to the declared port type, matching the
// executor's "normalises outgoing scalars to the declared port type"
// contract (§4.1). Unrecognized port types pass the value through as-is.
func normalizeScalar(portType string, v Scalar) Scalar {
	switch strings.ToLower(portType) {
	case "bool", "boolean":
		switch t := v.Value.(type) {
		case bool:
			return Scalar{Kind: ScalarBool, Value: t}
		default:
			return Scalar{Kind: ScalarBool, Value: truthy(v.Value)}
		}
	case "int", "integer":
		if n, ok := toInt(v.Value); ok {
			return Scalar{Kind: ScalarInt, Value: n}
		}
		return Scalar{Kind: ScalarInt, Value: 0}
	case "str", "string":
		return Scalar{Kind: ScalarString, Value: toScalarString(v.Value)}
	default:
		return v
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return v != nil
	}
}

func toScalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return toStringFallback(t)
	}
}
