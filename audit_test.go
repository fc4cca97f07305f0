package goIdentity

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/mfa"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditDisabledNoEvents(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) { c.Audit.Enabled = false }))
	env.seed(t, "a@example.com", "p1")
	require.True(t, env.engine.Authenticate(context.Background(), "a@example.com", "p1").OK())

	env.engine.Close()
	assert.Empty(t, env.audit.types())
	assert.Zero(t, env.engine.AuditDropped())
}

func TestAuditEventFields(t *testing.T) {
	env := newTestEnv(t)
	ident := env.seed(t, "a@example.com", "p1")
	ctx := WithClientIP(WithUserAgent(context.Background(), "curl/8"), "203.0.113.7")

	assert.False(t, env.engine.Authenticate(ctx, "a@example.com", "wrong").OK())
	env.engine.Close()

	events := env.audit.all()
	require.NotEmpty(t, events)
	e := events[len(events)-1]
	assert.Equal(t, auditEventLoginFailure, e.EventType)
	assert.Equal(t, ident.ID, e.IdentityID)
	assert.Equal(t, "203.0.113.7", e.IP)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.False(t, e.Success)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, env.clock.Now(), e.Timestamp)
}

func TestAuditJSONWriterSink(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{ID: "1", EventType: auditEventLoginSuccess, IdentityID: "id-1", Success: true})

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got))
	assert.Equal(t, auditEventLoginSuccess, got["event_type"])
	assert.Equal(t, "id-1", got["identity_id"])
}

// Secrets handed to the engine never reach an audit sink.
func TestAuditNoSecretsInEvents(t *testing.T) {
	var buf syncBuffer
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())
	secret, codes := enrollTOTP(t, env, ident.ID)
	ch := mfaLogin(t, env)
	require.True(t, env.engine.VerifyChallenge(ctx, ch.SessionToken, mfa.MethodBackupCode, codes[0]).OK())
	reauth := env.reauth(t, ident.ID, "p1", OperationPasswordChange)
	require.True(t, env.engine.ChangePassword(ctx, ident.ID, reauth, "correct horse battery").OK())

	env.engine.Close()
	sink := NewJSONWriterSink(&buf)
	for _, e := range env.audit.all() {
		sink.Emit(ctx, e)
	}
	out := buf.String()
	require.NotEmpty(t, out)
	for _, s := range []string{"p1", "correct horse battery", secret, codes[0], res.Tokens.AccessToken, res.Tokens.RefreshToken, ch.SessionToken, reauth} {
		assert.NotContains(t, out, s)
	}
}
