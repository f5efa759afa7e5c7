package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	require.NoError(t, d.UnmarshalText([]byte(" 60 ")))
	assert.Equal(t, time.Minute, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
}

func TestSecretNeverPrints(t *testing.T) {
	s := Secret("sk-abc123")

	assert.Equal(t, "sk-abc123", s.Value())
	assert.True(t, s.IsSet())
	assert.NotContains(t, fmt.Sprintf("%v %s %+v %#v", s, s, s, s), "sk-abc123")

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-abc123")
	assert.Contains(t, string(out), "[REDACTED]")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
