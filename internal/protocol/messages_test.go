package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ReplyAndDecode(t *testing.T) {
	env, err := Reply("m-1", MsgFinal, FinalPayload{Message: "done", Iterations: 2})
	require.NoError(t, err)
	assert.Equal(t, "m-1", env.ReplyTo)
	assert.NotEmpty(t, env.ID)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var back Envelope
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, MsgFinal, back.Type)

	var p FinalPayload
	require.NoError(t, back.Decode(&p))
	assert.Equal(t, "done", p.Message)
	assert.Equal(t, 2, p.Iterations)
}

func TestEnvelope_DecodeEmpty(t *testing.T) {
	env, err := NewEnvelope(MsgPing, nil)
	require.NoError(t, err)
	var p ChatPayload
	assert.Error(t, env.Decode(&p))
}
