package config

import (
	"time"

	"github.com/edunderwood/transcript-translate-server/internal/kafka"
	"github.com/edunderwood/transcript-translate-server/internal/mirror"
	"github.com/edunderwood/transcript-translate-server/internal/translation"
	"github.com/edunderwood/transcript-translate-server/internal/wsconn"
	pkgconfig "github.com/edunderwood/transcript-translate-server/pkg/config"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
	"github.com/edunderwood/transcript-translate-server/pkg/pubsub"
)

type Config struct {
	Server      ServerConfig
	WebSocket   wsconn.Config `mapstructure:"websocket"`
	Liveness    LivenessConfig
	Translation translation.Config
	Pipeline    PipelineConfig
	PubSub      pubsub.Config `mapstructure:"pubsub"`
	Mirror      mirror.Config
	Kafka       kafka.Config
	Log         pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LivenessConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type PipelineConfig struct {
	LaneDepth int `mapstructure:"lane_depth"`
}

// Load reads ./config/config.yaml (optional) and the environment.
func Load() (*Config, error) {
	return load("./config")
}

func load(path string) (*Config, error) {
	v, err := pkgconfig.Load(path, "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("liveness.heartbeat_timeout", "90s")
	v.SetDefault("translation.driver", "echo")
	v.SetDefault("translation.google_api_key", "")
	v.SetDefault("translation.source_language", "en")
	v.SetDefault("translation.timeout", "10s")
	v.SetDefault("pipeline.lane_depth", 256)
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.prefix", "caption")
	v.SetDefault("mirror.status_ttl", "24h")
	v.SetDefault("mirror.queue_size", 1024)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "presenter-events")
	v.SetDefault("kafka.group_id", "transcript-translate-server")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "transcript-translate-server")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("liveness.heartbeat_timeout", "HEARTBEAT_TIMEOUT")
	v.BindEnv("translation.driver", "TRANSLATION_DRIVER")
	v.BindEnv("translation.google_api_key", "GOOGLE_TRANSLATE_API_KEY")
	v.BindEnv("translation.source_language", "SOURCE_LANGUAGE")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("mirror.enabled", "MIRROR_ENABLED")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_PRESENTER_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Liveness.HeartbeatTimeout = pkgconfig.Duration(v, "liveness.heartbeat_timeout", 90*time.Second)
	cfg.Translation.Timeout = pkgconfig.Duration(v, "translation.timeout", 10*time.Second)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Mirror.StatusTTL = pkgconfig.Duration(v, "mirror.status_ttl", 24*time.Hour)
	cfg.Translation.OrgKeys = v.GetStringMapString("translation.org_keys")

	return &cfg, nil
}
