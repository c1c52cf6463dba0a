package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the full runtime configuration for the reservation service.
// Values come from an optional TOML file pointed to by RESERVED_CONFIG, with
// environment variables taking precedence.
type Config struct {
	ListenAddr  string `toml:"listen_addr"`
	DatabaseURL string `toml:"database_url"`
	Environment string `toml:"environment"`

	// MaxReservations bounds a wallet's concurrently active holds.
	MaxReservations int `toml:"max_reservations"`
	// MaxReservationDuration caps how long a caller may hold a reservation.
	MaxReservationDuration time.Duration `toml:"max_reservation_duration"`

	// AuthPublicKeys are hex secp256k1 keys trusted to sign requests.
	AuthPublicKeys []string `toml:"auth_public_keys"`
	DebugIgnoreSig bool     `toml:"debug_ignore_sig"`
	// SigningKey is the hex secp256k1 key used to sign mint metadata
	// responses. Optional; metadata goes out unsigned without it.
	SigningKey string `toml:"signing_key"`

	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`

	// Chain endpoints used by transaction reconciliation.
	LCDURL      string `toml:"lcd_url"`
	FCDURL      string `toml:"fcd_url"`
	ChainID     string `toml:"chain_id"`
	NFTContract string `toml:"nft_contract"`

	ReconInterval time.Duration `toml:"recon_interval"`
	ReportDir     string        `toml:"report_dir"`
	ReportHour    int           `toml:"report_hour"`
	ReportMinute  int           `toml:"report_minute"`

	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
}

// FromEnv loads configuration from RESERVED_CONFIG (if set) and then the
// environment. It errors on missing required values rather than guessing.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:             ":8080",
		Environment:            "dev",
		MaxReservations:        5,
		MaxReservationDuration: 30 * time.Minute,
		RateLimitRPS:           10,
		RateLimitBurst:         20,
		ReconInterval:          time.Minute,
		ReportDir:              "reports",
		ReportHour:             2,
	}

	if path := strings.TrimSpace(os.Getenv("RESERVED_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	cfg.ListenAddr = envDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.Environment = envDefault("RESERVED_ENV", cfg.Environment)
	cfg.LCDURL = envDefault("LCD_URL", cfg.LCDURL)
	cfg.FCDURL = envDefault("FCD_URL", cfg.FCDURL)
	cfg.ChainID = envDefault("CHAIN_ID", cfg.ChainID)
	cfg.NFTContract = envDefault("NFT_CONTRACT", cfg.NFTContract)
	cfg.ReportDir = envDefault("REPORT_DIR", cfg.ReportDir)
	cfg.SigningKey = envDefault("RESERVATION_SIGNING_KEY", cfg.SigningKey)
	cfg.LogFile = envDefault("LOG_FILE", cfg.LogFile)

	var err error
	if cfg.MaxReservations, err = envInt("MAX_RESERVATIONS", cfg.MaxReservations); err != nil {
		return Config{}, err
	}
	if cfg.MaxReservationDuration, err = envDuration("MAX_RESERVATION_DURATION", cfg.MaxReservationDuration); err != nil {
		return Config{}, err
	}
	if cfg.DebugIgnoreSig, err = envBool("DEBUG_IGNORE_SIG", cfg.DebugIgnoreSig); err != nil {
		return Config{}, err
	}
	if cfg.ReconInterval, err = envDuration("RECON_INTERVAL", cfg.ReconInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReportHour, err = envInt("REPORT_HOUR", cfg.ReportHour); err != nil {
		return Config{}, err
	}
	if cfg.ReportMinute, err = envInt("REPORT_MINUTE", cfg.ReportMinute); err != nil {
		return Config{}, err
	}
	if cfg.LogMaxSizeMB, err = envInt("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB); err != nil {
		return Config{}, err
	}
	if cfg.LogMaxBackups, err = envInt("LOG_MAX_BACKUPS", cfg.LogMaxBackups); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return Config{}, err
	}

	if keys := strings.TrimSpace(os.Getenv("RESERVATION_AUTH_PUBLIC_KEY")); keys != "" {
		cfg.AuthPublicKeys = splitList(keys)
	}
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.MaxReservations < 1 {
		return Config{}, fmt.Errorf("config: MAX_RESERVATIONS must be at least 1")
	}
	if cfg.MaxReservationDuration <= 0 {
		return Config{}, fmt.Errorf("config: MAX_RESERVATION_DURATION must be positive")
	}
	if len(cfg.AuthPublicKeys) == 0 && !cfg.DebugIgnoreSig {
		return Config{}, fmt.Errorf("config: RESERVATION_AUTH_PUBLIC_KEY is required unless DEBUG_IGNORE_SIG is set")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	return b, nil
}

// envDuration accepts Go duration strings, or a bare integer meaning seconds
// for compatibility with older deployments.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
