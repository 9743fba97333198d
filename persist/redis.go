package persist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

const redisScanBatch = 256

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisBackend stores each record as a hash under <key_prefix>:<id> with a
// native expiry matching the record's.
type RedisBackend struct {
	ctx    context.Context
	logger types.Logger
	config *RedisConfig
	client *redis.Client
}

func NewRedisBackend(ctx context.Context, logger types.Logger, config interface{}) (*RedisBackend, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "giro-sync",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis config")
		}
	}

	r := &RedisBackend{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			MinIdleConns: redisConfig.MinIdleConnections,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	if err := r.ping(); err != nil {
		_ = r.client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	logger.Info("Redis persistence connected",
		zap.String("host", redisConfig.Host),
		zap.Int("port", redisConfig.Port),
		zap.String("key_prefix", redisConfig.KeyPrefix))

	return r, nil
}

func (r *RedisBackend) Name() string {
	return "redis"
}

func (r *RedisBackend) Replace(ctx context.Context, records []StoredRecord) error {
	existing, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	keep := make(map[string]struct{}, len(records))

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, record := range records {
			if record.ExpiredAt(now) {
				continue
			}

			key := r.buildFullKey(record.ID)
			keep[key] = struct{}{}

			pipe.Del(ctx, key)
			pipe.HSet(ctx, key,
				fieldPayload, record.Payload,
				fieldExpiresAt, strconv.FormatInt(toUnixNano(record.ExpiresAt), 10))
			if !record.ExpiresAt.IsZero() {
				pipe.PExpireAt(ctx, key, record.ExpiresAt)
			}
		}

		for _, key := range existing {
			if _, ok := keep[key]; !ok {
				pipe.Del(ctx, key)
			}
		}
		return nil
	})
	if err != nil {
		return types.WrapError(err, "failed to write snapshot")
	}

	return nil
}

func (r *RedisBackend) Load(ctx context.Context) ([]StoredRecord, error) {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []StoredRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to read records")
	}

	records := make([]StoredRecord, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		record := StoredRecord{
			ID:      r.stripPrefix(keys[i]),
			Payload: []byte(fields[fieldPayload]),
		}
		if raw := fields[fieldExpiresAt]; raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				r.logger.Warn("Bad expiry on redis record", zap.String("key", keys[i]), zap.Error(err))
				record.Payload = nil
			}
			record.ExpiresAt = fromUnixNano(n)
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *RedisBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.buildFullKey(id))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return types.WrapError(err, "failed to delete records")
	}
	return nil
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err = r.client.Del(ctx, keys...).Err(); err != nil {
		return types.WrapError(err, "failed to clear records")
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis persistence closed")
	return nil
}

func (r *RedisBackend) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)

	pattern := r.buildFullKey("*")
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, redisScanBatch).Result()
		if err != nil {
			return nil, types.WrapError(err, "failed to scan records")
		}
		keys = append(keys, batch...)

		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *RedisBackend) buildFullKey(id string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + id
	}
	return id
}

func (r *RedisBackend) stripPrefix(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return key[len(r.config.KeyPrefix)+1:]
}
