package preflight

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/caseweave/caseweave/internal/config"
)

func TestCheckGovernor(t *testing.T) {
	t.Run("no redis configured", func(t *testing.T) {
		result := CheckGovernor(context.Background(), config.GovernorConfig{})
		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "local semaphore")
	})

	t.Run("reachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		result := CheckGovernor(context.Background(), config.GovernorConfig{RedisAddr: mr.Addr()})
		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, mr.Addr())
	})

	t.Run("unreachable redis warns", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		result := CheckGovernor(context.Background(), config.GovernorConfig{RedisAddr: addr})
		assert.Equal(t, StatusWarn, result.Status)
		assert.False(t, result.Required)
		assert.Contains(t, result.Message, "local semaphore")
	})
}
