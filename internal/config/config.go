package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr           string
	DeviceID       string
	BackendURL     string
	BackendTimeout time.Duration
	CORSOrigin     string
	// Redis holds the credential, the widget order and the expense cache.
	RedisURL        string
	ExpenseCacheTTL time.Duration
	// PostgreSQL keeps the briefing run history; empty disables it.
	DatabaseURL   string
	MigrationsDir string
	// Meilisearch indexes notes; empty disables it.
	MeiliURL       string
	MeiliMasterKey string
	// MinIO archives uploaded documents; empty endpoint disables it.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Playback
	AmbientTrack  string
	AmbientSocket string
	AmbientVolume float64
	FadeDuration  time.Duration
	AudioCommand  string
	SpeechCommand string
	TickInterval  time.Duration
}

func Load() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "default"
	}
	return Config{
		Addr:            getenv("HOMEBOARD_ADDR", ":8790"),
		DeviceID:        getenv("HOMEBOARD_DEVICE_ID", hostname),
		BackendURL:      getenv("HOMEBOARD_BACKEND_URL", "http://localhost:8000/api"),
		BackendTimeout:  time.Duration(getenvInt("HOMEBOARD_BACKEND_TIMEOUT_SECONDS", 30)) * time.Second,
		CORSOrigin:      getenv("HOMEBOARD_CORS_ORIGIN", "*"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		ExpenseCacheTTL: time.Duration(getenvInt("HOMEBOARD_EXPENSE_CACHE_SECONDS", 300)) * time.Second,
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrationsDir:   getenv("HOMEBOARD_MIGRATIONS_DIR", "./db/migrations"),
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getenv("MINIO_BUCKET", "homeboard-documents"),
		MinioUseSSL:     getenvBool("MINIO_USE_SSL", false),
		AmbientTrack:    getenv("HOMEBOARD_AMBIENT_TRACK", "./assets/ambient.mp3"),
		AmbientSocket:   getenv("HOMEBOARD_AMBIENT_SOCKET", "/tmp/homeboard-ambient.sock"),
		AmbientVolume:   getenvFloat("HOMEBOARD_AMBIENT_VOLUME", 0.3),
		FadeDuration:    time.Duration(getenvInt("HOMEBOARD_FADE_MS", 3000)) * time.Millisecond,
		AudioCommand:    getenv("HOMEBOARD_AUDIO_COMMAND", "mpv --no-video --really-quiet"),
		SpeechCommand:   getenv("HOMEBOARD_SPEECH_COMMAND", "espeak-ng"),
		TickInterval:    time.Duration(getenvInt("HOMEBOARD_TICK_SECONDS", 60)) * time.Second,
	}
}

// LoadFile overlays a YAML file on top of the environment configuration.
// Keys use the environment variable names in lower case.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	overlayString(v, "homeboard_addr", &cfg.Addr)
	overlayString(v, "homeboard_device_id", &cfg.DeviceID)
	overlayString(v, "homeboard_backend_url", &cfg.BackendURL)
	overlayString(v, "homeboard_cors_origin", &cfg.CORSOrigin)
	overlayString(v, "redis_url", &cfg.RedisURL)
	overlayString(v, "database_url", &cfg.DatabaseURL)
	overlayString(v, "homeboard_migrations_dir", &cfg.MigrationsDir)
	overlayString(v, "meili_url", &cfg.MeiliURL)
	overlayString(v, "meili_master_key", &cfg.MeiliMasterKey)
	overlayString(v, "minio_endpoint", &cfg.MinioEndpoint)
	overlayString(v, "minio_access_key", &cfg.MinioAccessKey)
	overlayString(v, "minio_secret_key", &cfg.MinioSecretKey)
	overlayString(v, "minio_bucket", &cfg.MinioBucket)
	overlayString(v, "homeboard_ambient_track", &cfg.AmbientTrack)
	overlayString(v, "homeboard_ambient_socket", &cfg.AmbientSocket)
	overlayString(v, "homeboard_audio_command", &cfg.AudioCommand)
	overlayString(v, "homeboard_speech_command", &cfg.SpeechCommand)
	if v.IsSet("minio_use_ssl") {
		cfg.MinioUseSSL = v.GetBool("minio_use_ssl")
	}
	if v.IsSet("homeboard_ambient_volume") {
		cfg.AmbientVolume = v.GetFloat64("homeboard_ambient_volume")
	}
	if v.IsSet("homeboard_backend_timeout_seconds") {
		cfg.BackendTimeout = time.Duration(v.GetInt("homeboard_backend_timeout_seconds")) * time.Second
	}
	if v.IsSet("homeboard_expense_cache_seconds") {
		cfg.ExpenseCacheTTL = time.Duration(v.GetInt("homeboard_expense_cache_seconds")) * time.Second
	}
	if v.IsSet("homeboard_fade_ms") {
		cfg.FadeDuration = time.Duration(v.GetInt("homeboard_fade_ms")) * time.Millisecond
	}
	if v.IsSet("homeboard_tick_seconds") {
		cfg.TickInterval = time.Duration(v.GetInt("homeboard_tick_seconds")) * time.Second
	}
	return cfg, nil
}

func overlayString(v *viper.Viper, key string, target *string) {
	if v.IsSet(key) {
		*target = v.GetString(key)
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
