package redis

import (
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cassiomorais/onramp/internal/infrastructure/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func redisConfigFor(t *testing.T, mr *miniredis.Miniredis) *config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return &config.RedisConfig{
		Host:              mr.Host(),
		Port:              port,
		ConnectRetries:    3,
		ConnectRetryDelay: 5 * time.Millisecond,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
