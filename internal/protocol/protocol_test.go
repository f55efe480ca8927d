package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantType    string
		wantPayload string
		wantTxID    string
		wantErr     bool
	}{
		{
			name:        "full envelope",
			in:          `{"type":"TEXT_MESSAGE","payload":{"roomId":"r1","text":"hi"},"transactionid":7}`,
			wantType:    TypeTextMessage,
			wantPayload: `{"roomId":"r1","text":"hi"}`,
			wantTxID:    `7`,
		},
		{
			name:        "missing payload becomes empty object",
			in:          `{"type":"PING"}`,
			wantType:    "PING",
			wantPayload: `{}`,
		},
		{
			name:        "null payload and null transaction id",
			in:          `{"type":"X","payload":null,"transactionid":null}`,
			wantType:    "X",
			wantPayload: `{}`,
		},
		{
			name:        "leading whitespace",
			in:          " \n{\"type\":\"X\"}",
			wantType:    "X",
			wantPayload: `{}`,
		},
		{
			name:        "string transaction id is kept verbatim",
			in:          `{"type":"X","transactionid":"abc"}`,
			wantType:    "X",
			wantPayload: `{}`,
			wantTxID:    `"abc"`,
		},
		{name: "not json", in: `hello`, wantErr: true},
		{name: "json array", in: `[1,2]`, wantErr: true},
		{name: "json null", in: `null`, wantErr: true},
		{name: "padded null", in: " \n null ", wantErr: true},
		{name: "scalar", in: `42`, wantErr: true},
		{name: "empty frame", in: ``, wantErr: true},
		{name: "type is not a string", in: `{"type":5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, env.Type)
			assert.JSONEq(t, tt.wantPayload, string(env.Payload))
			assert.Equal(t, tt.wantTxID, string(env.TransactionID))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Run("nil payload", func(t *testing.T) {
		data, err := Encode(TypeWelcome, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"WELCOME","payload":{}}`, string(data))
	})

	t.Run("error with transaction id", func(t *testing.T) {
		data, err := Encode(TypeError, ErrorPayload{Type: ErrorNotInRoom, TransactionID: json.RawMessage(`12`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"ERROR","payload":{"type":"not_in_room","transactionid":12}}`, string(data))
	})

	t.Run("absent transaction id is omitted", func(t *testing.T) {
		data, err := Encode(TypeSuccess, SuccessPayload{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"SUCCESS","payload":{}}`, string(data))
	})

	t.Run("unencodable payload", func(t *testing.T) {
		_, err := Encode(TypeSuccess, map[string]any{"bad": make(chan int)})
		assert.Error(t, err)
	})
}

func TestEncodeDecodeKeepsTransactionID(t *testing.T) {
	in, err := Decode([]byte(`{"type":"TEXT_MESSAGE","payload":{},"transactionid":{"n":1}}`))
	require.NoError(t, err)

	data, err := Encode(TypeSuccess, SuccessPayload{TransactionID: in.TransactionID})
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)

	var payload SuccessPayload
	require.NoError(t, json.Unmarshal(out.Payload, &payload))
	assert.JSONEq(t, `{"n":1}`, string(payload.TransactionID))
}
