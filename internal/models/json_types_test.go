package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachments_PassThrough(t *testing.T) {
	var payload struct {
		Attachments Attachments `json:"attachments"`
	}
	raw := `{"attachments":[{"type":"image","url":"https://x/y.png"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestAttachments_EmptyIsNull(t *testing.T) {
	out, err := json.Marshal(struct {
		A Attachments `json:"a"`
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null}`, string(out))

	v, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAttachments_ValueRejectsInvalidJSON(t *testing.T) {
	_, err := Attachments(`{"broken"`).Value()
	assert.Error(t, err)

	v, err := Attachments(`[1,2]`).Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", v)
}

func TestAttachments_Scan(t *testing.T) {
	var a Attachments
	require.NoError(t, a.Scan([]byte(`{"k":1}`)))
	assert.Equal(t, `{"k":1}`, string(a))
	require.NoError(t, a.Scan(nil))
	assert.Nil(t, a)
	assert.Error(t, a.Scan(42))
}
