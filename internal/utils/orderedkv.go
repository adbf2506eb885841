package utils

import (
	"bytes"
	"encoding/json"
	"sort"
)

// OrderedKV is a value with its position in the encoded object.
type OrderedKV[T any] struct {
	Value T
	Order int64
}

// OrderedKVMap encodes as a JSON object whose keys appear by Order, ties
// broken by key.
type OrderedKVMap[T any] map[string]OrderedKV[T]

// Set stores value at the next position.
func (om OrderedKVMap[T]) Set(key string, value T) {
	om[key] = OrderedKV[T]{Value: value, Order: int64(len(om))}
}

// Keys returns the keys in encoding order.
func (om OrderedKVMap[T]) Keys() []string {
	keys := make([]string, 0, len(om))
	for k := range om {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := om[keys[i]], om[keys[j]]
		if a.Order == b.Order {
			return keys[i] < keys[j]
		}
		return a.Order < b.Order
	})
	return keys
}

func (om OrderedKVMap[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range om.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valueBytes, err := json.Marshal(om[key].Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valueBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the values; positions follow key order.
func (om *OrderedKVMap[T]) UnmarshalJSON(data []byte) error {
	var plain map[string]T
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	keys := make([]string, 0, len(plain))
	for k := range plain {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(OrderedKVMap[T], len(plain))
	for _, k := range keys {
		out.Set(k, plain[k])
	}
	*om = out
	return nil
}
