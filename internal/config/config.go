package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Stats  StatsConfig  `mapstructure:"stats"`
	PSTH   PSTHConfig   `mapstructure:"psth"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	Output            string `mapstructure:"output"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// DBConfig selects the gorm dialect. Driver is one of postgres, mysql or sqlite;
// for sqlite the DSN is a file path (or ":memory:").
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Ingest   string `mapstructure:"ingest"`
	Populate string `mapstructure:"populate"`
}

type IngestConfig struct {
	RootDataDir string   `mapstructure:"root_data_dir"`
	Loader      string   `mapstructure:"loader"`
	Username    string   `mapstructure:"username"`
	Rig         string   `mapstructure:"rig"`
	Subjects    []string `mapstructure:"subjects"`
}

type StatsConfig struct {
	MinISI       float64 `mapstructure:"min_isi"`
	ISIThreshold float64 `mapstructure:"isi_threshold"`
}

type PSTHConfig struct {
	XMin    float64 `mapstructure:"xmin"`
	XMax    float64 `mapstructure:"xmax"`
	BinSize float64 `mapstructure:"bin_size"`
}

type JobsConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryAfter time.Duration `mapstructure:"retry_after"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPHYS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.ingest", "@every 1h")
	v.SetDefault("cron.populate", "@every 10m")
	v.SetDefault("ingest.root_data_dir", "")
	v.SetDefault("ingest.loader", "vincent")
	v.SetDefault("ingest.username", "")
	v.SetDefault("ingest.rig", "")
	v.SetDefault("ingest.subjects", []string{})

	// Defaults follow the published isi_violations() convention.
	v.SetDefault("stats.min_isi", 0.0)
	v.SetDefault("stats.isi_threshold", 0.002)

	v.SetDefault("psth.xmin", -3.0)
	v.SetDefault("psth.xmax", 3.0)
	v.SetDefault("psth.bin_size", 0.04)
	v.SetDefault("jobs.backend", "db")
	v.SetDefault("jobs.ttl", "2h")
	v.SetDefault("jobs.retry_after", "6h")
	v.SetDefault("jobs.redis.addr", "localhost:6379")
	v.SetDefault("jobs.redis.password", "")
	v.SetDefault("jobs.redis.db", 0)
	v.SetDefault("jobs.redis.prefix", "ephyspipe:job:")
	v.SetDefault("auth.jwt_secret", "")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
