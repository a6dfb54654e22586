package global

import (
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is loaded once at startup and handed to every component by
// value; nothing reads configuration after construction.
type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	GatewayID string `mapstructure:"gateway_id"` // defaults to a random id per process

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Nats struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"nats"`

	Kafka struct {
		Brokers    []string `mapstructure:"brokers"`
		TopicCount int      `mapstructure:"topic_count"`
	} `mapstructure:"kafka"`

	JWT struct {
		Secret string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"jwt"`

	Presence struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"presence"`

	Scheduler struct {
		PlanHour      int           `mapstructure:"plan_hour"`      // local hour of the daily pairing run
		DrainInterval time.Duration `mapstructure:"drain_interval"` // cadence of the due-message drain
	} `mapstructure:"scheduler"`
}

func defaults() Config {
	var c Config
	c.HTTPAddr = ":3000"
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "pulseim"
	c.Redis.Addr = "localhost:6379"
	c.Nats.URL = "nats://localhost:4222"
	c.Kafka.Brokers = []string{"localhost:9092"}
	c.Kafka.TopicCount = 4
	c.JWT.TTL = time.Hour
	c.Presence.TTL = 30 * time.Minute
	c.Scheduler.PlanHour = 2
	c.Scheduler.DrainInterval = time.Minute
	return c
}

// Load reads the optional YAML file at path, decodes it over the
// defaults and applies environment overrides for deploy-time values.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		var m map[string]interface{}
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
			Result:     &cfg,
		})
		if err != nil {
			return cfg, err
		}
		if err := dec.Decode(m); err != nil {
			return cfg, errors.Wrapf(err, "decode config %s", path)
		}
	}

	applyEnv(&cfg)
	if cfg.JWT.Secret == "" {
		return cfg, errors.New("jwt secret is required (config jwt.secret or PULSEIM_JWT_SECRET)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PULSEIM_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("PULSEIM_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("PULSEIM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PULSEIM_NATS_URL"); v != "" {
		cfg.Nats.URL = v
	}
	if v := os.Getenv("PULSEIM_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("PULSEIM_GATEWAY_ID"); v != "" {
		cfg.GatewayID = v
	}
	if v := os.Getenv("PULSEIM_KAFKA_TOPICS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Kafka.TopicCount = n
		}
	}
}
