package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseweave/caseweave/internal/config"
)

// governorProbeTimeout bounds the Redis ping so a firewalled endpoint
// cannot stall startup.
const governorProbeTimeout = 2 * time.Second

// CheckGovernor probes the Redis endpoint backing the resource
// governor. The check is never required: the governor fails open to a
// local semaphore when Redis is unreachable, so the result only tells
// the operator which mode they will get.
func CheckGovernor(ctx context.Context, cfg config.GovernorConfig) CheckResult {
	result := CheckResult{Name: "Governor", Required: false}

	if cfg.RedisAddr == "" {
		result.Status = StatusPass
		result.Message = "no Redis configured, using local semaphore"
		return result
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: governorProbeTimeout,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, governorProbeTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Redis at %s unreachable, admissions fall back to local semaphore", cfg.RedisAddr)
		result.Details = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("Redis at %s reachable", cfg.RedisAddr)
	return result
}
