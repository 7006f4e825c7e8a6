package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigIsValid(t *testing.T) {
	cfg := Config(t)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AdminEmail, cfg.Auth.AdminEmail)
	assert.DirExists(t, cfg.Backup.Dir)
}

func TestMockSender(t *testing.T) {
	s := NewMockSender()
	require.NoError(t, s.Send(context.Background(), "order.created", 1))

	boom := errors.New("boom")
	s.FailWith(boom)
	assert.ErrorIs(t, s.Send(context.Background(), "order.status", 2), boom)

	sent, err := s.WaitFor(2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []Sent{{Event: "order.created", Body: 1}, {Event: "order.status", Body: 2}}, sent)

	_, err = s.WaitFor(3, 10*time.Millisecond)
	assert.Error(t, err)
}
