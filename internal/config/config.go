package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
// Незаданные поля получают значения по умолчанию в ApplyDefaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	WSPort   int `yaml:"ws_port"`
	APIPort  int `yaml:"api_port"`
	TickRate int `yaml:"tick_rate"` // тиков в секунду
}

type GameConfig struct {
	MapsDir          string        `yaml:"maps_dir"`
	DefaultMap       string        `yaml:"default_map"`
	CellSize         int           `yaml:"cell_size"`
	CheckRadius      int           `yaml:"check_radius"`
	DataTimeout      time.Duration `yaml:"data_timeout"`
	SaveInterval     time.Duration `yaml:"save_interval"`
	InviteTimeout    time.Duration `yaml:"invite_timeout"`
	ShutdownDeadline time.Duration `yaml:"shutdown_deadline"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // memory|badger|maria|mongo
	DataDir   string `yaml:"data_dir"`
	MariaDSN  string `yaml:"maria_dsn"`
	MongoURI  string `yaml:"mongo_uri"`
	MongoDB   string `yaml:"mongo_db"`
	Lock      string `yaml:"lock"` // memory|redis
	RedisAddr string `yaml:"redis_addr"`
	Workers   int    `yaml:"workers"`
}

type AuthConfig struct {
	Secret       string        `yaml:"secret"` // base64, не короче 32 байт
	TokenTTL     time.Duration `yaml:"token_ttl"`
	AdminKeyHash string        `yaml:"admin_key_hash"` // bcrypt; пусто - выдача токенов без ключа
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто - шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
	Dir    string `yaml:"dir"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults заполняет незаданные поля.
// Порты берутся с приоритетом: config -> env -> default.
func (c *Config) ApplyDefaults() {
	c.Server.WSPort = getPortWithEnvFallback(c.Server.WSPort, "GAME_WS_PORT", 7777)
	c.Server.APIPort = getPortWithEnvFallback(c.Server.APIPort, "GAME_API_PORT", 8088)
	setInt(&c.Server.TickRate, 20)

	setString(&c.Game.MapsDir, "maps")
	setString(&c.Game.DefaultMap, "map1")
	setInt(&c.Game.CellSize, 8)
	setInt(&c.Game.CheckRadius, 3)
	setDuration(&c.Game.DataTimeout, 60*time.Second)
	setDuration(&c.Game.SaveInterval, 60*time.Second)
	setDuration(&c.Game.InviteTimeout, 30*time.Second)
	setDuration(&c.Game.ShutdownDeadline, 15*time.Second)

	setString(&c.Storage.Backend, "badger")
	setString(&c.Storage.DataDir, "data")
	setString(&c.Storage.Lock, "memory")
	setString(&c.Storage.RedisAddr, "localhost:6379")
	setInt(&c.Storage.Workers, 4)

	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("GAME_JWT_SECRET")
	}
	setDuration(&c.Auth.TokenTTL, 5*time.Second)

	if c.EventBus.URL == "" {
		c.EventBus.URL = os.Getenv("NATS_URL")
	}
	setString(&c.EventBus.Stream, "FG_EVENTS")
	setInt(&c.EventBus.Retention, 24)

	setString(&c.Telemetry.ServiceName, "fg-server")

	if c.Logging.Level == "" {
		c.Logging.Level = os.Getenv("LOG_LEVEL")
	}
	setString(&c.Logging.Level, "info")
	if c.Logging.Format == "" {
		c.Logging.Format = os.Getenv("LOG_FORMAT")
	}
	setString(&c.Logging.Format, "text")
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "badger", "maria", "mongo":
	default:
		return fmt.Errorf("неизвестный backend хранилища: %q", c.Storage.Backend)
	}
	switch c.Storage.Lock {
	case "memory", "redis":
	default:
		return fmt.Errorf("неизвестный backend блокировок: %q", c.Storage.Lock)
	}
	if c.Storage.Backend == "maria" && c.Storage.MariaDSN == "" {
		return fmt.Errorf("storage.maria_dsn не задан")
	}
	if c.Server.TickRate <= 0 || c.Server.TickRate > 1000 {
		return fmt.Errorf("недопустимая частота тиков: %d", c.Server.TickRate)
	}
	if c.Game.CheckRadius < 0 {
		return fmt.Errorf("недопустимый радиус проверки: %d", c.Game.CheckRadius)
	}
	return nil
}

// TickInterval длительность одного тика
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Server.TickRate)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

// Load читает YAML файл конфигурации и заполняет значения по умолчанию.
// Если path == "", берётся ENV GAME_CONFIG; если и он пуст, возвращаются дефолты.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GAME_CONFIG")
	}
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
