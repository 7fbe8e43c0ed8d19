package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scan      ScanConfig      `yaml:"scan"`
	PII       PIIConfig       `yaml:"pii"`
	Branches  BranchesConfig  `yaml:"branches"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	return s
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
	AuditSink   string `yaml:"audit_sink"` // "log" or "postgres"
}

type RateLimitConfig struct {
	DefaultRPM int `yaml:"default_rpm"`
}

// ScanConfig bounds the pattern matching stage.
type ScanConfig struct {
	PatternBudget time.Duration `yaml:"pattern_budget"`
	MaxSamples    int           `yaml:"max_samples"`
}

// PIIConfig describes the external recognizer sidecars and the language
// identifier. One recognizer per language model.
type PIIConfig struct {
	Recognizers   []RecognizerConfig `yaml:"recognizers"`
	IdentifierURL string             `yaml:"identifier_url"`
	Deadline      time.Duration      `yaml:"deadline"`
}

type RecognizerConfig struct {
	Language string `yaml:"language"`
	URL      string `yaml:"url"`
}

// BranchesConfig describes the external arbiter branches: B is the semantic
// similarity service, C the safety classifier. Branch A is computed in-process.
type BranchesConfig struct {
	Similarity     BranchEndpoint       `yaml:"similarity"`
	Classifier     BranchEndpoint       `yaml:"classifier"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type BranchEndpoint struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow       time.Duration `yaml:"error_rate_window"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxBodyBytes:     1 << 20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "vigil",
			User:            "vigil",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
			AuditSink:   "log",
		},
		RateLimit: RateLimitConfig{
			DefaultRPM: 60,
		},
		Scan: ScanConfig{
			PatternBudget: 50 * time.Millisecond,
			MaxSamples:    3,
		},
		PII: PIIConfig{
			Recognizers: []RecognizerConfig{
				{Language: "en", URL: "http://vigil-pii-en:5001/analyze"},
				{Language: "pl", URL: "http://vigil-pii-pl:5002/analyze"},
			},
			IdentifierURL: "http://vigil-langid:5003/detect",
			Deadline:      5 * time.Second,
		},
		Branches: BranchesConfig{
			Similarity: BranchEndpoint{
				URL:     "http://vigil-similarity:5004/score",
				Timeout: 2 * time.Second,
			},
			Classifier: BranchEndpoint{
				URL:     "http://vigil-guard-clf:5005/score",
				Timeout: 2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				ErrorRateThreshold:    0.5,
				ErrorRateWindow:       30 * time.Second,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
	}
}
