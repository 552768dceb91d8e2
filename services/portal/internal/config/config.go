package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, overridable with PORTAL_CONFIG.
var ConfigPath = envOr("PORTAL_CONFIG", "config.yaml")

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverMinio = "minio"
	StorageDriverFile  = "file"

	// DefaultAdminEmail names the reserved admin identity; it stays disabled until a password is set.
	DefaultAdminEmail = "admin@intellimed.ai"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	LogLevel                string   `yaml:"logLevel"`
	LogFile                 string   `yaml:"logFile"`
	LogMaxSizeMB            int      `yaml:"logMaxSizeMB"`
	LogMaxBackups           int      `yaml:"logMaxBackups"`
	LogMaxAgeDays           int      `yaml:"logMaxAgeDays"`
	StoreDriver             string   `yaml:"storeDriver"`
	DatabaseURL             string   `yaml:"databaseURL"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	JWTSecret               string   `yaml:"jwtSecret"`
	JWTIssuer               string   `yaml:"jwtIssuer"`
	TokenTTL                string   `yaml:"tokenTTL"`
	AdminEmail              string   `yaml:"adminEmail"`
	AdminPassword           string   `yaml:"adminPassword"`
	DoctorRegistrationCode  string   `yaml:"doctorRegistrationCode"`
	GoogleClientID          string   `yaml:"googleClientID"`
	GoogleJWKSURL           string   `yaml:"googleJwksURL"`
	NLPBaseURL              string   `yaml:"nlpBaseURL"`
	NLPAPIKey               string   `yaml:"nlpAPIKey"`
	NLPModel                string   `yaml:"nlpModel"`
	StorageDriver           string   `yaml:"storageDriver"`
	UploadDir               string   `yaml:"uploadDir"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	CORSOrigins             []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	LinkRateLimitPerMinute  int      `yaml:"linkRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("PORTAL_PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("PORTAL_LOG_FILE", &cfg.LogFile)
	setString("PORTAL_STORE_DRIVER", &cfg.StoreDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("PORTAL_TOKEN_TTL", &cfg.TokenTTL)
	setString("PORTAL_ADMIN_EMAIL", &cfg.AdminEmail)
	setString("PORTAL_ADMIN_PASSWORD", &cfg.AdminPassword)
	setString("PORTAL_DOCTOR_REGISTRATION_CODE", &cfg.DoctorRegistrationCode)
	setString("GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	setString("GOOGLE_JWKS_URL", &cfg.GoogleJWKSURL)
	setString("PORTAL_NLP_BASE_URL", &cfg.NLPBaseURL)
	setString("PORTAL_NLP_API_KEY", &cfg.NLPAPIKey)
	setString("PORTAL_NLP_MODEL", &cfg.NLPModel)
	setString("PORTAL_STORAGE_DRIVER", &cfg.StorageDriver)
	setString("PORTAL_UPLOAD_DIR", &cfg.UploadDir)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("PORTAL_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("PORTAL_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	setInt("PORTAL_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("PORTAL_LINK_RATE_LIMIT_PER_MINUTE", &cfg.LinkRateLimitPerMinute)
	setInt("PORTAL_LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB)
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverFile
	}
	if cfg.StorageDriver == StorageDriverFile && strings.TrimSpace(cfg.UploadDir) == "" {
		cfg.UploadDir = "uploads"
	}
	if strings.TrimSpace(cfg.AdminEmail) == "" {
		cfg.AdminEmail = DefaultAdminEmail
	}
	if strings.TrimSpace(cfg.LogFile) != "" {
		if cfg.LogMaxSizeMB == 0 {
			cfg.LogMaxSizeMB = 100
		}
		if cfg.LogMaxBackups == 0 {
			cfg.LogMaxBackups = 5
		}
		if cfg.LogMaxAgeDays == 0 {
			cfg.LogMaxAgeDays = 28
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost", "http://localhost:3000"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres store (set DATABASE_URL)")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	switch cfg.StorageDriver {
	case StorageDriverFile:
	case StorageDriverMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage driver")
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q", cfg.StorageDriver)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.LinkRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if strings.TrimSpace(cfg.NLPBaseURL) != "" && strings.TrimSpace(cfg.NLPModel) == "" {
		return errors.New("config: nlpModel is required when nlpBaseURL is set")
	}
	if cfg.LogMaxSizeMB < 0 || cfg.LogMaxBackups < 0 || cfg.LogMaxAgeDays < 0 {
		return errors.New("config: log rotation settings must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}

// ParseTokenTTL parses the optional token lifetime; empty means the 30m default.
func ParseTokenTTL(ttlStr string) (time.Duration, error) {
	if strings.TrimSpace(ttlStr) == "" {
		return 30 * time.Minute, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: tokenTTL must be positive")
	}
	return dur, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
