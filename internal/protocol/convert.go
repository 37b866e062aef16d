package protocol

import (
	"fmt"
	"strconv"
)

// The decoder hands back loosely typed values (CBOR integers may arrive
// as int64 or uint64, arrays as []any). These helpers normalize record
// fields without caring which concrete type the codec picked.

// AsString converts a record field to a string.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsInt converts a record field to an int.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

// AsBool converts a record field to a bool. Legacy peers encode boolean
// flags as numeric 1/0.
func AsBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if n, ok := AsInt(v); ok {
		return n != 0, true
	}
	return false, false
}

// AsStringSlice converts a record field to a list of strings.
func AsStringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// AsStringMap converts a record field to a string-to-string map,
// stringifying scalar values. Workers report environments this way.
func AsStringMap(v any) (map[string]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		switch s := item.(type) {
		case string:
			out[k] = s
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprintf("%v", s)
		}
	}
	return out, true
}

// AsBytes converts a record field to a byte slice. Text-mode transfers
// may deliver chunks as strings.
func AsBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}

// AsUpdates converts the "args" field of an update record into ordered
// key/value pairs. The wire shape is a list of two-element arrays.
func AsUpdates(v any) ([]Update, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("update args are %T, expected a list of pairs", v)
	}
	updates := make([]Update, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("malformed update pair %v", item)
		}
		key, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("update key %v is not a string", pair[0])
		}
		updates = append(updates, Update{Key: key, Value: pair[1]})
	}
	return updates, nil
}
