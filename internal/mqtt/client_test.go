package mqtt

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		broker string
	}{
		{"empty", ""},
		{"no scheme", "localhost:1883"},
		{"garbage", "://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewClient(Config{Broker: tt.broker}, nil)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestNewClientAppliesDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)

	cfg := c.(*client).config
	assert.Equal(t, DefaultConfig().ConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultConfig().PublishTimeout, cfg.PublishTimeout)
	assert.Equal(t, DefaultConfig().ReconnectCooldown, cfg.ReconnectCooldown)
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)

	assert.False(t, c.IsConnected())
	err = c.Publish(t.Context(), "topic", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))

	c.Disconnect()
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()

	// Grab a free port and close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c, err := NewClient(Config{
		Broker:         "tcp://" + addr,
		ClientID:       "test",
		ConnectTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))
	assert.False(t, c.IsConnected())

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}
