// Package config loads the process configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gnitoahc/go-dotenv"
)

// Config is built once at start and passed to every component.
type Config struct {
	LogLevel string
	Storage  StorageConfig
	Upload   UploadConfig
	Mail     MailConfig
	HTTP     HTTPConfig
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	// Driver is one of "s3", "r2", "minio" or "sqlite".
	Driver string

	S3AccountID string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioUseSSL    bool

	SQLiteSource          string
	SQLiteVisibilityDelay time.Duration
}

// UploadConfig controls the verified upload workflow.
type UploadConfig struct {
	Bucket        string
	Wait          time.Duration
	StrictBucket  bool
	RandomizeKeys bool
	MaxBytes      int64
	// CDNDomain, when set, is used to build public URLs for uploaded keys.
	CDNDomain string
}

// MailConfig configures the feedback and newsletter providers.
type MailConfig struct {
	// Driver is "resend" or "log".
	Driver     string
	APIKey     string
	From       string
	To         string
	AudienceID string
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Port         int
	AllowOrigins []string
	RateLimitRPS float64
	RateBurst    int
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Load reads .env (if present) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	dotenv.Load(".env")

	cfg := &Config{
		LogLevel: dotenv.Get("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Storage, err = loadStorage(); err != nil {
		return nil, err
	}
	if cfg.Upload, err = loadUpload(); err != nil {
		return nil, err
	}
	if cfg.Mail, err = loadMail(); err != nil {
		return nil, err
	}
	if cfg.HTTP, err = loadHTTP(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStorage() (StorageConfig, error) {
	s := StorageConfig{
		Driver:         strings.ToLower(dotenv.Get("OBJECT_BACKEND_DRIVER", "sqlite")),
		S3AccountID:    dotenv.Get("S3_ACCOUNT_ID", dotenv.Get("CF_ACCOUNT_ID", "")),
		S3AccessKey:    dotenv.Get("S3_ACCESS_KEY", dotenv.Get("CF_ACCESS_KEY", "")),
		S3SecretKey:    dotenv.Get("S3_SECRET_ACCESS_KEY", dotenv.Get("CF_SECRET_ACCESS_KEY", "")),
		S3Region:       dotenv.Get("S3_REGION", "auto"),
		S3Endpoint:     dotenv.Get("S3_ENDPOINT", ""),
		MinioEndpoint:  dotenv.Get("MINIO_ENDPOINT", ""),
		MinioAccessKey: dotenv.Get("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: dotenv.Get("MINIO_SECRET_KEY", ""),
		MinioRegion:    dotenv.Get("MINIO_REGION", ""),
		SQLiteSource:   dotenv.Get("SQLITE_SOURCE", "file:objects.db?cache=shared"),
	}

	var err error
	if s.S3PathStyle, err = parseBool("S3_PATH_STYLE", false); err != nil {
		return s, err
	}
	if s.MinioUseSSL, err = parseBool("MINIO_USE_SSL", false); err != nil {
		return s, err
	}
	if s.SQLiteVisibilityDelay, err = parseDuration("SQLITE_VISIBILITY_DELAY", 0); err != nil {
		return s, err
	}

	switch s.Driver {
	case "s3", "r2":
		if s.S3AccessKey == "" || s.S3SecretKey == "" {
			return s, errors.New("S3_ACCESS_KEY and S3_SECRET_ACCESS_KEY are required")
		}
		if s.S3AccountID == "" && s.S3Endpoint == "" {
			return s, errors.New("S3_ACCOUNT_ID or S3_ENDPOINT is required")
		}
	case "minio":
		if s.MinioEndpoint == "" {
			return s, errors.New("MINIO_ENDPOINT is required")
		}
	case "sqlite":
		if s.SQLiteSource == "" {
			return s, errors.New("SQLITE_SOURCE is required")
		}
	default:
		return s, fmt.Errorf("unknown OBJECT_BACKEND_DRIVER %q", s.Driver)
	}
	return s, nil
}

func loadUpload() (UploadConfig, error) {
	u := UploadConfig{
		Bucket:    dotenv.Get("UPLOAD_BUCKET", "discoursio"),
		CDNDomain: strings.TrimSuffix(dotenv.Get("CDN_DOMAIN", ""), "/"),
	}

	var err error
	if u.Wait, err = parseDuration("UPLOAD_WAIT", 5*time.Second); err != nil {
		return u, err
	}
	if u.StrictBucket, err = parseBool("UPLOAD_STRICT_BUCKET", false); err != nil {
		return u, err
	}
	if u.RandomizeKeys, err = parseBool("UPLOAD_RANDOMIZE_KEYS", false); err != nil {
		return u, err
	}
	maxBytes, err := strconv.ParseInt(dotenv.Get("UPLOAD_MAX_BYTES", "10000000"), 10, 64)
	if err != nil || maxBytes <= 0 {
		return u, errors.New("UPLOAD_MAX_BYTES must be a positive integer")
	}
	u.MaxBytes = maxBytes

	if u.Bucket == "" {
		return u, errors.New("UPLOAD_BUCKET is required")
	}
	return u, nil
}

func loadMail() (MailConfig, error) {
	m := MailConfig{
		Driver:     strings.ToLower(dotenv.Get("MAIL_DRIVER", "log")),
		APIKey:     dotenv.Get("RESEND_API_KEY", ""),
		From:       dotenv.Get("MAIL_FROM", "feedback@discours.io"),
		To:         dotenv.Get("MAIL_TO", "welcome@discours.io"),
		AudienceID: dotenv.Get("RESEND_AUDIENCE_ID", ""),
	}
	switch m.Driver {
	case "log":
	case "resend":
		if m.APIKey == "" {
			return m, errors.New("RESEND_API_KEY is required when MAIL_DRIVER=resend")
		}
	default:
		return m, fmt.Errorf("unknown MAIL_DRIVER %q", m.Driver)
	}
	return m, nil
}

func loadHTTP() (HTTPConfig, error) {
	h := HTTPConfig{}

	port, err := strconv.Atoi(dotenv.Get("HTTP_PORT", "3000"))
	if err != nil || port <= 0 || port > 65535 {
		return h, errors.New("HTTP_PORT must be a valid port")
	}
	h.Port = port

	for _, origin := range strings.Split(dotenv.Get("ALLOW_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			h.AllowOrigins = append(h.AllowOrigins, origin)
		}
	}

	rps, err := strconv.ParseFloat(dotenv.Get("RATE_LIMIT_RPS", "5"), 64)
	if err != nil || rps <= 0 {
		return h, errors.New("RATE_LIMIT_RPS must be a positive number")
	}
	h.RateLimitRPS = rps

	burst, err := strconv.Atoi(dotenv.Get("RATE_LIMIT_BURST", "10"))
	if err != nil || burst <= 0 {
		return h, errors.New("RATE_LIMIT_BURST must be a positive integer")
	}
	h.RateBurst = burst

	if h.TrustProxy, err = parseBool("TRUST_PROXY", false); err != nil {
		return h, err
	}
	return h, nil
}

func parseBool(key string, def bool) (bool, error) {
	val := dotenv.Get(key, "")
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, val)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	val := dotenv.Get(key, "")
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, val)
	}
	return d, nil
}
