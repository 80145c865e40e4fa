package sdk

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a custom user property value: a Text, a Number, or a List of
// further Values. The set of variants is closed; other packages cannot add
// their own.
//
// Example:
//
//	client.UserDataSet("plan", sdk.Text("pro"))
//	client.UserDataPush("scores", sdk.Number(12.5))
//	client.UserDataSet("matrix", sdk.List{
//	    sdk.List{sdk.Number(1), sdk.Number(2)},
//	    sdk.List{sdk.Text("a")},
//	})
type Value interface {
	// wire converts the value to its JSON-compatible representation.
	wire(path string) (interface{}, error)
}

// Text is a string property value.
type Text string

// Number is a numeric property value. It must be finite.
type Number float64

// List is an ordered list of property values, possibly nested.
type List []Value

func (t Text) wire(string) (interface{}, error) {
	return string(t), nil
}

func (n Number) wire(path string) (interface{}, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%s: %w", path, ErrNonFiniteNumber)
	}
	return f, nil
}

func (l List) wire(path string) (interface{}, error) {
	out := make([]interface{}, len(l))
	for i, v := range l {
		elemPath := path + "[" + strconv.Itoa(i) + "]"
		if v == nil {
			return nil, fmt.Errorf("%s: %w", elemPath, ErrInvalidValue)
		}
		w, err := v.wire(elemPath)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// ValueOf converts a loosely typed Go value into a Value. Strings become
// Text, any integer or float kind becomes Number, and slices of supported
// values become List. It is used by decoders that receive property values
// as generic JSON.
func ValueOf(v interface{}) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case string:
		return Text(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(x), nil
	case int:
		return Number(x), nil
	case int32:
		return Number(x), nil
	case int64:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case []interface{}:
		list := make(List, len(x))
		for i, elem := range x {
			converted, err := ValueOf(elem)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case []string:
		list := make(List, len(x))
		for i, s := range x {
			list[i] = Text(s)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported property value %T: %w", v, ErrInvalidValue)
	}
}
