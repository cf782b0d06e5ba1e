package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ServerAddr)
	assert.Equal(t, "frontend/dist", cfg.StaticDir)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, 60*time.Second, cfg.RoomGracePeriod)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("RELAY_ADDR", ":9090")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("RELAY_ROOM_GRACE_PERIOD", "5s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.RoomGracePeriod)
}

func TestFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("RELAY_ROOM_GRACE_PERIOD", "not-a-duration")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{ServerAddr: ":3000", RoomGracePeriod: time.Minute},
		},
		{
			name:    "empty address",
			cfg:     Config{ServerAddr: "", RoomGracePeriod: time.Minute},
			wantErr: true,
		},
		{
			name:    "non-positive grace period",
			cfg:     Config{ServerAddr: ":3000", RoomGracePeriod: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
