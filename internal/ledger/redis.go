package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"flowchart_gateway/internal/models"
)

// DefaultRedisKeyPrefix namespaces ledger hashes
const DefaultRedisKeyPrefix = "ledger:user:"

// Script status codes, first element of every reply
const (
	scriptOK           = 1
	scriptInsufficient = 0
	scriptExists       = -1
	scriptMissing      = -2
)

// snapshotLua returns the status code followed by the hash fields
const snapshotLua = `
local function snapshot(key)
	local v = redis.call('HMGET', key, 'free_credit_used', 'credits', 'created_at', 'updated_at')
	return {1, v[1], v[2], v[3], v[4]}
end
`

var (
	createScript = redis.NewScript(snapshotLua + `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {-1}
end
redis.call('HSET', KEYS[1], 'free_credit_used', '0', 'credits', '0', 'created_at', ARGV[1], 'updated_at', ARGV[1])
return snapshot(KEYS[1])
`)

	getOrCreateScript = redis.NewScript(snapshotLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'free_credit_used', '0', 'credits', '0', 'created_at', ARGV[1], 'updated_at', ARGV[1])
end
return snapshot(KEYS[1])
`)

	markFreeScript = redis.NewScript(snapshotLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-2}
end
redis.call('HSET', KEYS[1], 'free_credit_used', '1', 'updated_at', ARGV[1])
return snapshot(KEYS[1])
`)

	decrementScript = redis.NewScript(snapshotLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-2}
end
local credits = tonumber(redis.call('HGET', KEYS[1], 'credits')) or 0
if credits < 1 then
	return {0}
end
redis.call('HINCRBY', KEYS[1], 'credits', -1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return snapshot(KEYS[1])
`)

	incrementScript = redis.NewScript(snapshotLua + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {-2}
end
redis.call('HINCRBY', KEYS[1], 'credits', ARGV[2])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return snapshot(KEYS[1])
`)
)

// RedisStore keeps each ledger entry in a Redis hash. All check-and-mutate
// operations run as Lua scripts so they are atomic on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed ledger. An empty prefix uses
// DefaultRedisKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) nowArg() string {
	return strconv.FormatInt(s.now().UTC().UnixMicro(), 10)
}

// Get reads the hash for userID
func (s *RedisStore) Get(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return entryFromValues(userID,
		fields["free_credit_used"],
		fields["credits"],
		fields["created_at"],
		fields["updated_at"],
	)
}

// Create inserts a default entry
func (s *RedisStore) Create(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.run(ctx, createScript, userID, s.nowArg())
}

// GetOrCreate inserts a default entry if the hash does not exist
func (s *RedisStore) GetOrCreate(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.run(ctx, getOrCreateScript, userID, s.nowArg())
}

// MarkFreeCreditUsed sets free_credit_used to 1
func (s *RedisStore) MarkFreeCreditUsed(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.run(ctx, markFreeScript, userID, s.nowArg())
}

// DecrementCredit removes one paid credit if at least one is available
func (s *RedisStore) DecrementCredit(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	return s.run(ctx, decrementScript, userID, s.nowArg())
}

// IncrementCredit adds amount paid credits
func (s *RedisStore) IncrementCredit(ctx context.Context, userID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.run(ctx, incrementScript, userID, s.nowArg(), amount)
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, userID string, args ...interface{}) (*models.LedgerEntry, error) {
	reply, err := script.Run(ctx, s.client, []string{s.key(userID)}, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run ledger script: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty ledger script reply")
	}

	code, err := replyInt(reply[0])
	if err != nil {
		return nil, fmt.Errorf("invalid ledger script status: %w", err)
	}

	switch code {
	case scriptOK:
	case scriptInsufficient:
		return nil, ErrInsufficientCredit
	case scriptExists:
		return nil, ErrAlreadyExists
	case scriptMissing:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected ledger script status %d", code)
	}

	if len(reply) != 5 {
		return nil, fmt.Errorf("unexpected ledger script reply length %d", len(reply))
	}

	values := make([]string, 4)
	for i := range values {
		values[i] = replyString(reply[i+1])
	}
	return entryFromValues(userID, values[0], values[1], values[2], values[3])
}

func entryFromValues(userID, free, credits, createdAt, updatedAt string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		UserID:         userID,
		FreeCreditUsed: free == "1",
	}

	var err error
	if credits != "" {
		entry.Credits, err = strconv.ParseInt(credits, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid credits value %q: %w", credits, err)
		}
	}
	if entry.CreatedAt, err = parseMicros(createdAt); err != nil {
		return nil, err
	}
	if entry.UpdatedAt, err = parseMicros(updatedAt); err != nil {
		return nil, err
	}
	return entry, nil
}

func parseMicros(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	us, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return time.UnixMicro(us).UTC(), nil
}

func replyInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func replyString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return ""
	}
}
