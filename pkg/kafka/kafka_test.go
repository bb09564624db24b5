package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	messages, err := encode([]Event{
		{Key: "search", Value: map[string]int{"hits": 3}},
		{Key: "scroll", Value: "page"},
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, []byte("search"), messages[0].Key)
	assert.JSONEq(t, `{"hits":3}`, string(messages[0].Value))
	assert.JSONEq(t, `"page"`, string(messages[1].Value))
}

func TestEncode_RejectsUnencodableValue(t *testing.T) {
	_, err := encode([]Event{{Key: "bad", Value: make(chan int)}})
	assert.ErrorContains(t, err, `marshaling event "bad"`)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Entities []string `json:"entities"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"entities":["dataset"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"dataset"}, got.Entities)

	_, err = DecodeJSON[payload]([]byte(`not json`))
	assert.Error(t, err)
}
