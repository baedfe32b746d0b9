package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/databind"
	dberrors "github.com/tokmz/databind/pkg/errors"
)

// RedisMode Redis 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// RedisOptions Redis 连接配置
type RedisOptions struct {
	Mode         RedisMode     `mapstructure:"mode" yaml:"mode"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`   // 单机
	Addrs        []string      `mapstructure:"addrs" yaml:"addrs"` // 集群/哨兵
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"-"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MasterName   string        `mapstructure:"master_name" yaml:"master_name"` // 哨兵模式
}

// DefaultRedisOptions 默认配置
func DefaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		Mode:         RedisStandalone,
		Addr:         "localhost:6379",
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient 按模式创建客户端，不做连通性检查
func NewRedisClient(o *RedisOptions) (redis.UniversalClient, error) {
	if o == nil {
		o = DefaultRedisOptions()
	}

	switch o.Mode {
	case RedisStandalone, "":
		return redis.NewClient(&redis.Options{
			Addr:         o.Addr,
			Username:     o.Username,
			Password:     o.Password,
			DB:           o.DB,
			PoolSize:     o.PoolSize,
			MinIdleConns: o.MinIdleConns,
			MaxRetries:   o.MaxRetries,
			DialTimeout:  o.DialTimeout,
			ReadTimeout:  o.ReadTimeout,
			WriteTimeout: o.WriteTimeout,
		}), nil

	case RedisCluster:
		if len(o.Addrs) == 0 {
			return nil, dberrors.ErrConfig.WithMessage("redis cluster mode requires addrs")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        o.Addrs,
			Username:     o.Username,
			Password:     o.Password,
			PoolSize:     o.PoolSize,
			MinIdleConns: o.MinIdleConns,
			MaxRetries:   o.MaxRetries,
			DialTimeout:  o.DialTimeout,
			ReadTimeout:  o.ReadTimeout,
			WriteTimeout: o.WriteTimeout,
		}), nil

	case RedisSentinel:
		if len(o.Addrs) == 0 || o.MasterName == "" {
			return nil, dberrors.ErrConfig.WithMessage("redis sentinel mode requires addrs and master name")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    o.MasterName,
			SentinelAddrs: o.Addrs,
			Username:      o.Username,
			Password:      o.Password,
			DB:            o.DB,
			PoolSize:      o.PoolSize,
			MinIdleConns:  o.MinIdleConns,
			MaxRetries:    o.MaxRetries,
			DialTimeout:   o.DialTimeout,
			ReadTimeout:   o.ReadTimeout,
			WriteTimeout:  o.WriteTimeout,
		}), nil

	default:
		return nil, dberrors.ErrConfig.WithMessagef("unsupported redis mode %q", o.Mode)
	}
}

// Redis 读取 Redis 键作为数据源
type Redis struct {
	client redis.UniversalClient
}

// NewRedis 创建处理器
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Fetch 实现 databind.Handler。键不存在时返回 nil
func (h *Redis) Fetch(ctx context.Context, cfg *databind.Config) (any, error) {
	rc := cfg.Redis
	if rc == nil || rc.Key == "" {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessage("redis key is required")
	}

	var (
		data any
		err  error
	)
	switch rc.Kind {
	case databind.RedisString, "":
		data, err = h.getString(ctx, rc.Key)
	case databind.RedisHash:
		data, err = h.getHash(ctx, rc.Key)
	case databind.RedisList:
		data, err = h.getList(ctx, rc.Key)
	default:
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessagef("unsupported redis kind %q", rc.Kind)
	}
	if err != nil {
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).
			WithMessagef("redis read %q failed", rc.Key).WithError(err)
	}
	return data, nil
}

func (h *Redis) getString(ctx context.Context, key string) (any, error) {
	v, err := h.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(v), nil
}

func (h *Redis) getHash(ctx context.Context, key string) (any, error) {
	fields, err := h.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = decodeValue(v)
	}
	return out, nil
}

func (h *Redis) getList(ctx context.Context, key string) (any, error) {
	items, err := h.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = decodeValue(v)
	}
	return out, nil
}

// decodeValue 能解析为 JSON 对象或数组时返回解析结果，否则返回原字符串
func decodeValue(v string) any {
	if len(v) == 0 || (v[0] != '{' && v[0] != '[') {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return v
	}
	return out
}
