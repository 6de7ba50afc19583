package infra

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/selfauth-gateway/internal/abi"
	"go.uber.org/multierr"
)

// Config - корневая структура конфигурации шлюза и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Console  ConsoleConfig  `mapstructure:"console"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConsoleConfig - HTTP админки (отдельный процесс от шлюза).
type ConsoleConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"` // пусто - gRPC выключен
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL          string        `mapstructure:"url"`
	MaxConns     int           `mapstructure:"max_conns"`
	MinConns     int           `mapstructure:"min_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub выдач и warm-набор).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для консоли и gwctl
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig - настройки шлюза execute.
type EngineConfig struct {
	SelfAddress  string  `mapstructure:"self_address"`
	AdminAddress string  `mapstructure:"admin_address"`
	StrictLayout bool    `mapstructure:"strict_layout"`
	RateLimit    float64 `mapstructure:"rate_limit"` // запросов в секунду
	RateBurst    int     `mapstructure:"rate_burst"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Circuit Breaker для хранилища аудита
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`

	// Начальные выдачи (hex action id), применяются однократно через SetPermissions
	InitialGrants []string `mapstructure:"initial_grants"`
}

type VaultConfig struct {
	WithdrawalLimit string        `mapstructure:"withdrawal_limit"` // десятичное число в минимальных единицах
	WaitingPeriod   time.Duration `mapstructure:"waiting_period"`
	Token           string        `mapstructure:"token"`
	InitialBalance  string        `mapstructure:"initial_balance"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	return load(v)
}

// LoadConfigFile читает конкретный файл (флаг --config у бинарников).
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// ENGINE_STRICT_LAYOUT=false перекроет engine.strict_layout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("console.addr", ":8000")
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_lifetime", 30*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("engine.strict_layout", true)
	v.SetDefault("engine.rate_limit", 100.0)
	v.SetDefault("engine.rate_burst", 20)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.cb_max_requests", 1)
	v.SetDefault("engine.cb_interval", 60*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("vault.withdrawal_limit", "1000000000000000000")
	v.SetDefault("vault.waiting_period", 15*24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate проверяет то, без чего шлюз не может стартовать корректно.
// Возвращает все найденные проблемы разом.
func (c *Config) Validate() error {
	var errs error
	if c.Engine.SelfAddress != "" {
		if _, err := abi.ParseAddress(c.Engine.SelfAddress); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("engine.self_address: %w", err))
		}
	}
	if c.Engine.AdminAddress != "" {
		if _, err := abi.ParseAddress(c.Engine.AdminAddress); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("engine.admin_address: %w", err))
		}
	}
	if _, err := c.Vault.Limit(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Vault.WaitingPeriod < 0 {
		errs = multierr.Append(errs, fmt.Errorf("vault.waiting_period must not be negative"))
	}
	return errs
}

func (c VaultConfig) Limit() (*big.Int, error) {
	limit, ok := new(big.Int).SetString(c.WithdrawalLimit, 10)
	if !ok || limit.Sign() < 0 {
		return nil, fmt.Errorf("vault.withdrawal_limit: invalid amount %q", c.WithdrawalLimit)
	}
	return limit, nil
}

func (c VaultConfig) Balance() (*big.Int, error) {
	if c.InitialBalance == "" {
		return new(big.Int), nil
	}
	b, ok := new(big.Int).SetString(c.InitialBalance, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("vault.initial_balance: invalid amount %q", c.InitialBalance)
	}
	return b, nil
}

// loadKeyResource: ключ из ENV либо из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
