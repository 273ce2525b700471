package logger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskJSON(t *testing.T) {
	body := []byte(`{
		"BusinessShortCode": "174379",
		"Password": "c2VjcmV0cGFzc3dvcmQ=",
		"PhoneNumber": "254712345678",
		"PartyA": "254712345678",
		"customer": {"name": "Jane", "email": "janedoe@example.com", "phone": "254700000001"},
		"items": [{"consumerSecret": "abcdefgh"}]
	}`)

	var got map[string]any
	require.NoError(t, json.Unmarshal(MaskJSON(body), &got))

	assert.Equal(t, "174379", got["BusinessShortCode"])
	assert.Equal(t, "****cmQ=", got["Password"])
	assert.Equal(t, "****5678", got["PhoneNumber"])
	assert.Equal(t, "****5678", got["PartyA"])

	customer := got["customer"].(map[string]any)
	assert.Equal(t, "Jane", customer["name"])
	assert.Equal(t, "jan****@example.com", customer["email"])
	assert.Equal(t, "****0001", customer["phone"])

	item := got["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "****efgh", item["consumerSecret"])
}

func TestMaskJSONLeavesNonObjectsAlone(t *testing.T) {
	assert.Equal(t, []byte("not json"), MaskJSON([]byte("not json")))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "****@x.io", MaskEmail("ab@x.io"))
	assert.Equal(t, "****", MaskEmail("bad"))
}
