package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/protocol"
	"github.com/Tyrowin/gochat/internal/router"
)

func TestClientDeliver_QueuesEncodedEnvelope(t *testing.T) {
	c := NewClient(nil, nil, "test", nil, router.New(nil, zerolog.Nop()), nil, ClientOptions{SendBufferSize: 4}, zerolog.Nop())

	c.Deliver(protocol.TypeSuccess, protocol.SuccessPayload{})
	frame := <-c.send
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeSuccess, env.Type)
	assert.JSONEq(t, `{}`, string(env.Payload))
}

func TestClientDeliver_SlowConsumerIsClosed(t *testing.T) {
	c := NewClient(nil, nil, "test", nil, router.New(nil, zerolog.Nop()), nil, ClientOptions{SendBufferSize: 1}, zerolog.Nop())

	c.Deliver(protocol.TypeSuccess, nil)
	c.Deliver(protocol.TypeSuccess, nil)

	_, ok := <-c.send
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok, "send channel should be closed")
	assert.Error(t, c.ctx.Err())

	assert.NotPanics(t, func() {
		c.Deliver(protocol.TypeSuccess, nil)
		c.closeSend()
	})
}

func TestGatewayAdmit_StoppedHubClosesClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	require.NoError(t, hub.Shutdown(time.Second))

	g := &Gateway{hub: hub}
	c := NewClient(nil, hub, "test", nil, router.New(nil, zerolog.Nop()), nil, ClientOptions{}, zerolog.Nop())

	assert.False(t, g.admit(c))
	assert.Error(t, c.ctx.Err())
	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed")
}

func TestProcessFrames_DiscardsAfterCancel(t *testing.T) {
	c := NewClient(nil, nil, "test", nil, router.New(nil, zerolog.Nop()), nil, ClientOptions{SendBufferSize: 4}, zerolog.Nop())
	c.cancel()
	c.inbound <- []byte(`{"type":"PING"}`)
	close(c.inbound)

	c.processFrames()
	assert.Empty(t, c.send, "no reply for frames queued after the connection ended")
}

func TestRateLimiter(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	rl := newRateLimiter(3, 3*time.Second, clk.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow())

	clk.Advance(time.Second)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	clk.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "refilled token %d", i)
	}
	assert.False(t, rl.allow(), "bucket never exceeds capacity")
}

func TestRateLimiter_InvalidSettingsFallBack(t *testing.T) {
	clk := &clock{now: time.Unix(1700000000, 0)}
	rl := newRateLimiter(0, 0, clk.Now)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
	clk.Advance(time.Second)
	assert.True(t, rl.allow())
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"http://LocalHost:8080"}, "HTTP://localhost:8080", true},
		{"path ignored", []string{"https://chat.example"}, "https://chat.example/app", true},
		{"port differs", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"scheme differs", []string{"http://chat.example"}, "https://chat.example", false},
		{"missing header", []string{"http://localhost:8080"}, "", false},
		{"malformed header", []string{"*"}, "not-a-url", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid config entry ignored", []string{"nope", " "}, "http://nope", false},
		{"empty allow-list", nil, "http://localhost:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, zerolog.Nop())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(r))
		})
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errString("write tcp: use of closed network connection")))
	assert.True(t, isExpectedCloseError(errString("write: broken pipe")))
	assert.False(t, isExpectedCloseError(errString("tls: bad certificate")))
}

type errString string

func (e errString) Error() string { return string(e) }
