package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	redisclient "github.com/aelexs/nextchapter/internal/redis"
)

// attemptScript atomically increments a counter and sets its TTL on the
// first increment of the window. Works without EXPIRE ... NX (Redis 7.0+).
const attemptScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// AttemptLimiter counts PIN attempts per client in fixed windows.
// Redis errors deny the attempt: the gate fails closed.
type AttemptLimiter struct {
	cmd    redisclient.Cmdable
	limit  int
	window time.Duration
}

// NewAttemptLimiter allows limit attempts per window for each key.
func NewAttemptLimiter(cmd redisclient.Cmdable, limit int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{cmd: cmd, limit: limit, window: window}
}

func attemptKey(client string) string {
	return "pin_attempts:" + client
}

// Allow records an attempt for client. Returns (true, nil) while the client
// is within the limit, (false, nil) once exceeded, and (false, err) when
// Redis fails.
func (l *AttemptLimiter) Allow(ctx context.Context, client string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.attempts.allow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	key := attemptKey(client)
	count, err := l.cmd.Eval(ctx, attemptScript, []string{key}, int(l.window/time.Second)).Int64()
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("attempt check %q: %w", key, err)
	}

	return count <= int64(l.limit), nil
}

// Reset clears the client's counter after a successful verification.
func (l *AttemptLimiter) Reset(ctx context.Context, client string) error {
	ctx, span := tracer.Start(ctx, "redis.attempts.reset")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	key := attemptKey(client)
	if err := l.cmd.Del(ctx, key).Err(); err != nil {
		failSpan(span, err)
		return fmt.Errorf("attempt reset %q: %w", key, err)
	}
	return nil
}
