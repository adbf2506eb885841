package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedKVMapMarshal(t *testing.T) {
	om := OrderedKVMap[string]{}
	om.Set("32", "b")
	om.Set("17", "a")
	om["99"] = OrderedKV[string]{Value: "c", Order: 1}

	data, err := json.Marshal(om)
	require.NoError(t, err)
	assert.Equal(t, `{"32":"b","17":"a","99":"c"}`, string(data))
	assert.Equal(t, []string{"32", "17", "99"}, om.Keys())
}

func TestOrderedKVMapRoundTrip(t *testing.T) {
	var om OrderedKVMap[int]
	require.NoError(t, json.Unmarshal([]byte(`{"b":2,"a":1}`), &om))
	assert.Equal(t, []string{"a", "b"}, om.Keys())
	assert.Equal(t, 2, om["b"].Value)
}
