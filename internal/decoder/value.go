package decoder

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackpal/bencode-go"
)

// Value is a decoded bencode value. It is one of Integer, ByteString, List
// or Dictionary.
type Value interface {
	isValue()
}

type (
	Integer    int64
	ByteString string
	List       []Value
	Dictionary map[string]Value
)

func (Integer) isValue()    {}
func (ByteString) isValue() {}
func (List) isValue()       {}
func (Dictionary) isValue() {}

// Keys returns the dictionary keys in bencode (byte-wise) order.
func (d Dictionary) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeValue decodes a single bencoded value from r.
func DecodeValue(r io.Reader) (Value, error) {
	raw, err := bencode.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode bencode: %w", err)
	}
	return toValue(raw)
}

// DecodeString decodes a bencoded string such as "l5:helloi52ee".
func DecodeString(s string) (Value, error) {
	return DecodeValue(strings.NewReader(s))
}

func toValue(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case int64:
		return Integer(v), nil
	case int:
		return Integer(v), nil
	case string:
		return ByteString(v), nil
	case []interface{}:
		list := make(List, 0, len(v))
		for _, item := range v {
			value, err := toValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		return list, nil
	case map[string]interface{}:
		dict := make(Dictionary, len(v))
		for k, item := range v {
			value, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			dict[k] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported bencode type %T", raw)
	}
}
