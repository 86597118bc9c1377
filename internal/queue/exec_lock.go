package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ExecLock is a per-job execution lock. At most one workflow execution may
// run for a job id at a time; a second delivery of the same id (for example
// after a lease-expiry race) must not start a second execution.
type ExecLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewExecLock builds a lock manager. The TTL bounds how long a crashed
// holder can block the job; it should exceed the longest execution.
func NewExecLock(client *redis.Client, ttl time.Duration) *ExecLock {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &ExecLock{client: client, ttl: ttl}
}

func lockKey(jobID string) string {
	return "summary:execlock:" + jobID
}

// Acquire attempts to take the lock for jobID. It returns a release token
// on success and ok=false when another execution holds the lock.
func (l *ExecLock) Acquire(ctx context.Context, jobID string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, lockKey(jobID), token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release frees the lock if this holder still owns it. The compare against
// the token keeps an expired holder from releasing a successor's lock.
func (l *ExecLock) Release(ctx context.Context, jobID, token string) error {
	return releaseScript.Run(ctx, l.client, []string{lockKey(jobID)}, token).Err()
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
