package messages

import (
	"encoding/base64"
	"testing"

	"github.com/room4-2/live-persona/audio"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	env, err := Parse([]byte(`{"type":"text-input","text":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, TypeTextInput, env.Type)

	var p TriggerPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, "hello", p.Text)
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{`{not json`, `{"text":"no type"}`, `[]`} {
		_, err := Parse([]byte(raw))
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestDecodeRequiredFields(t *testing.T) {
	env, err := Parse([]byte(`{"type":"expression-command","duration":0}`))
	require.NoError(t, err)
	require.EqualError(t, env.Decode(&ExpressionPayload{}), "expression_id is required")

	env, err = Parse([]byte(`{"type":"expression-command","expression_id":0}`))
	require.NoError(t, err)
	var p ExpressionPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, 0, *p.ExpressionID)

	env, err = Parse([]byte(`{"type":"motion-command","motion_group":"Idle"}`))
	require.NoError(t, err)
	require.EqualError(t, env.Decode(&MotionPayload{}), "motion_index is required")

	env, err = Parse([]byte(`{"type":"add-client-to-group"}`))
	require.NoError(t, err)
	require.EqualError(t, env.Decode(&AddClientPayload{}), "invitee_uid is required")
}

func TestDecodeRejectsBadEncoding(t *testing.T) {
	env, err := Parse([]byte(`{"type":"raw-audio-data","audio":[0.1],"encoding":"opus"}`))
	require.NoError(t, err)
	require.EqualError(t, env.Decode(&RawAudioPayload{}), "encoding is invalid")
}

func TestRawAudioForms(t *testing.T) {
	env, err := Parse([]byte(`{"type":"raw-audio-data","audio":[0.5,-0.5]}`))
	require.NoError(t, err)
	var floats RawAudioPayload
	require.NoError(t, env.Decode(&floats))
	require.Equal(t, []float32{0.5, -0.5}, floats.Samples())

	pcm := audio.EncodePCM16([]float32{0.25, -0.25})
	raw := `{"type":"raw-audio-data","audio":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
	env, err = Parse([]byte(raw))
	require.NoError(t, err)
	var encoded RawAudioPayload
	require.NoError(t, env.Decode(&encoded))
	samples := encoded.Samples()
	require.Len(t, samples, 2)
	require.InDelta(t, 0.25, samples[0], 0.001)

	raw = `{"type":"raw-audio-data","encoding":"mulaw","audio":"` + base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF}) + `"}`
	env, err = Parse([]byte(raw))
	require.NoError(t, err)
	var mulaw RawAudioPayload
	require.NoError(t, env.Decode(&mulaw))
	require.Len(t, mulaw.Samples(), 4)

	env, err = Parse([]byte(`{"type":"raw-audio-data","audio":"!!"}`))
	require.NoError(t, err)
	require.ErrorIs(t, env.Decode(&RawAudioPayload{}), ErrMalformed)
}

func TestOutboundShapes(t *testing.T) {
	out, err := sonic.MarshalString(NewGroupUpdate(nil, false))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"group-update","members":[],"is_owner":false}`, out)

	out, err = sonic.MarshalString(NewSilentAudio(&DisplayText{Text: "hi", Name: "Mia"}, nil, true))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"audio","audio":null,"volumes":[],"slice_length":20,
		"display_text":{"text":"hi","name":"Mia","avatar":""},"actions":null,"forwarded":true}`, out)

	out, err = sonic.MarshalString(NewHistoryDeleted(false, "h1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"history-deleted","success":false,"history_uid":"h1"}`, out)

	out, err = sonic.MarshalString(NewInterruptSignal())
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"interrupt-signal","text":"conversation-interrupted"}`, out)
}
