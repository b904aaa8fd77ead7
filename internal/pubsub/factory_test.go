package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

func TestNewPubSub(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NotifyConfig
		wantErr string
	}{
		{name: "empty backend is local", cfg: config.NotifyConfig{}},
		{name: "local backend", cfg: config.NotifyConfig{Backend: "local"}},
		{name: "redis without url", cfg: config.NotifyConfig{Backend: "redis"}, wantErr: "redis_url is required"},
		{name: "redis with invalid url", cfg: config.NotifyConfig{Backend: "redis", RedisURL: "invalid://url"}, wantErr: "failed to connect to Redis"},
		{name: "unknown backend", cfg: config.NotifyConfig{Backend: "kafka"}, wantErr: "unknown notify backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := NewPubSub(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, ps)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer ps.Close()
			_, ok := ps.(*LocalPubSub)
			assert.True(t, ok, "should be LocalPubSub")
		})
	}
}
