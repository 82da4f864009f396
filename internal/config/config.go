package config

import (
	"time"

	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-io-live/danmu-relay/pkg/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/middleware"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	Feed      FeedConfig
	PubSub    pubsub.Config `mapstructure:"pubsub"`
	Registry  RegistryConfig
	CORS      middleware.CORSConfig `mapstructure:"cors"`
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type RedisConfig struct {
	Address           string
	Password          string
	DB                int
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
	RegistryPrefix    string        `mapstructure:"registry_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

// FeedConfig selects how upstream live feeds are reached.
type FeedConfig struct {
	Driver           string        // "websocket" or "pubsub"
	URL              string        // websocket driver; "{room_id}" is substituted
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

type RegistryConfig struct {
	Enabled          bool
	AdvertiseAddress string `mapstructure:"advertise_address"`
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("feed.driver", "FEED_DRIVER")
	v.BindEnv("feed.url", "FEED_URL")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("registry.enabled", "REGISTRY_ENABLED")
	v.BindEnv("registry.advertise_address", "REGISTRY_ADVERTISE_ADDRESS")
	v.BindEnv("log.level", "LOG_LEVEL")

	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lookup_timeout", "500ms")
	v.SetDefault("redis.registry_prefix", "relay:registry")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("feed.driver", "websocket")
	v.SetDefault("feed.url", "ws://localhost:9000/live/{room_id}")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.read_timeout", "90s")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.buffer_size", 256)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "danmu-relay")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.advertise_address", "localhost:8765")
	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Redis.LookupTimeout = parseDuration(v, "redis.lookup_timeout", 500*time.Millisecond)
	cfg.Redis.HeartbeatInterval = parseDuration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.KeyTTL = parseDuration(v, "redis.key_ttl", 30*time.Second)
	cfg.Feed.HandshakeTimeout = parseDuration(v, "feed.handshake_timeout", 10*time.Second)
	cfg.Feed.ReadTimeout = parseDuration(v, "feed.read_timeout", 90*time.Second)
	cfg.PubSub.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
