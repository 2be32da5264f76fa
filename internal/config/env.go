package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings are the process-level runtime settings read from POWERD_*
// environment variables. They are distinct from the user-editable document:
// secrets and host wiring never live in the config files.
type Settings struct {
	ListenAddr string
	LogLevel   string

	DefaultConfigPath string
	CustomConfigPath  string
	DataDir           string

	// Secrets. No defaults: a missing secret fails startup.
	JWTSecret         string
	JWTTTL            time.Duration
	AdminPasswordHash string
	UserPasswordHash  string
	InternalToken     string

	RedisURL string

	InfluxURL    string
	InfluxOrg    string
	InfluxBucket string
	InfluxToken  string

	SimHardware  bool
	I2CBus       string
	WatchdogPath string

	TLSCertFile string
	TLSKeyFile  string

	CameraLogPath string
	RouterLogPath string

	OtelEnabled      bool
	OtelExporter     string
	OtelEndpoint     string
	OtelSamplingRate float64
	Environment      string
}

// SettingsFromEnv builds Settings from the environment. Paths and the listen
// address have sensible defaults; credentials do not.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		ListenAddr:        envOr("POWERD_LISTEN", ":8080"),
		LogLevel:          envOr("POWERD_LOG_LEVEL", "info"),
		DefaultConfigPath: envOr("POWERD_DEFAULT_CONFIG", "/etc/powerd/default.json"),
		CustomConfigPath:  envOr("POWERD_CUSTOM_CONFIG", "/var/lib/powerd/custom.json"),
		DataDir:           envOr("POWERD_DATA_DIR", "/var/lib/powerd"),
		RedisURL:          envOr("POWERD_REDIS_URL", "redis://localhost:6379/0"),
		InfluxURL:         os.Getenv("POWERD_INFLUX_URL"),
		InfluxOrg:         os.Getenv("POWERD_INFLUX_ORG"),
		InfluxBucket:      envOr("POWERD_INFLUX_BUCKET", "powerd"),
		InfluxToken:       os.Getenv("POWERD_INFLUX_TOKEN"),
		I2CBus:            envOr("POWERD_I2C_BUS", "/dev/i2c-1"),
		WatchdogPath:      envOr("POWERD_WATCHDOG", "/dev/watchdog"),
		TLSCertFile:       os.Getenv("POWERD_TLS_CERT"),
		TLSKeyFile:        os.Getenv("POWERD_TLS_KEY"),
		CameraLogPath:     envOr("POWERD_CAMERA_LOG", "/var/log/powerd/camera.log"),
		RouterLogPath:     envOr("POWERD_ROUTER_LOG", "/var/log/powerd/router.log"),
		OtelExporter:      envOr("POWERD_OTEL_EXPORTER", "grpc"),
		OtelEndpoint:      envOr("POWERD_OTEL_ENDPOINT", "localhost:4317"),
		Environment:       envOr("POWERD_ENVIRONMENT", "production"),
	}

	otelEnabled, err := envBool("POWERD_OTEL_ENABLED", false)
	if err != nil {
		return Settings{}, err
	}
	s.OtelEnabled = otelEnabled

	rate, err := envFloat("POWERD_OTEL_SAMPLING_RATE", 0.1)
	if err != nil {
		return Settings{}, err
	}
	s.OtelSamplingRate = rate

	s.JWTSecret = os.Getenv("POWERD_JWT_SECRET")
	if s.JWTSecret == "" {
		return Settings{}, fmt.Errorf("POWERD_JWT_SECRET is required")
	}
	if len(s.JWTSecret) < 32 {
		return Settings{}, fmt.Errorf("POWERD_JWT_SECRET must be at least 32 bytes")
	}

	s.AdminPasswordHash = os.Getenv("POWERD_ADMIN_PASSWORD_HASH")
	if s.AdminPasswordHash == "" {
		return Settings{}, fmt.Errorf("POWERD_ADMIN_PASSWORD_HASH is required")
	}
	s.UserPasswordHash = os.Getenv("POWERD_USER_PASSWORD_HASH")
	if s.UserPasswordHash == "" {
		return Settings{}, fmt.Errorf("POWERD_USER_PASSWORD_HASH is required")
	}
	s.InternalToken = os.Getenv("POWERD_INTERNAL_TOKEN")
	if s.InternalToken == "" {
		return Settings{}, fmt.Errorf("POWERD_INTERNAL_TOKEN is required")
	}

	ttl, err := envDuration("POWERD_JWT_TTL", 12*time.Hour)
	if err != nil {
		return Settings{}, err
	}
	s.JWTTTL = ttl

	sim, err := envBool("POWERD_SIM_HARDWARE", false)
	if err != nil {
		return Settings{}, err
	}
	s.SimHardware = sim

	return s, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
