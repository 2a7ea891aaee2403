package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
)

func TestJSONCodecIsRegistered(t *testing.T) {
	req := require.New(t)
	codec := encoding.GetCodec(CodecName)
	req.NotNil(codec)

	raw, err := codec.Marshal(&gateway.Frame{Ack: &gateway.Ack{RequestID: "r1", Type: gateway.ActionPing, Code: gateway.CodeOK}})
	req.NoError(err)
	req.JSONEq(`{"ack":{"requestId":"r1","type":"ping","code":"ok"}}`, string(raw))

	var a gateway.Action
	req.NoError(codec.Unmarshal([]byte(`{"type":"send_message","conversationId":"c1","payload":{"content":"hi"}}`), &a))
	req.Equal(gateway.ActionSendMessage, a.Type)
	req.Equal("c1", a.ConversationID)
	req.JSONEq(`{"content":"hi"}`, string(a.Payload))
}
