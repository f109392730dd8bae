package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Paths    PathsConfig    `yaml:"paths"`
	Intake   IntakeConfig   `yaml:"intake"`
	Worker   WorkerConfig   `yaml:"worker"`
	Recovery RecoveryConfig `yaml:"recovery"`
	FaceAPI  FaceAPIConfig  `yaml:"face_api"`
	Identify IdentifyConfig `yaml:"identify"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env" validate:"oneof=development production test"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`

	// SQLite
	Path string `yaml:"path" validate:"required_if=Driver sqlite"`

	// Postgres
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns int  `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int  `yaml:"max_idle_conns" validate:"gte=0"`
	LogQueries   bool `yaml:"log_queries"`
}

// PathsConfig holds the local layout. Relative directories live under EventRoot.
type PathsConfig struct {
	EventRoot  string `yaml:"event_root" validate:"required"`
	Intake     string `yaml:"intake" validate:"required"`
	Processed  string `yaml:"processed" validate:"required"`
	People     string `yaml:"people" validate:"required"`
	NoMatch    string `yaml:"no_match" validate:"required"`
	NoFaces    string `yaml:"no_faces" validate:"required"`
	Thumbnails string `yaml:"thumbnails" validate:"required"`
}

type IntakeConfig struct {
	StableWindow   time.Duration `yaml:"stable_window"`
	RescanInterval time.Duration `yaml:"rescan_interval" validate:"gt=0"`
	HashAttempts   int           `yaml:"hash_attempts" validate:"gte=1"`
	HashRetryDelay time.Duration `yaml:"hash_retry_delay"`
}

type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency" validate:"gte=1"`
	BatchSize      int           `yaml:"batch_size" validate:"gte=1"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	BaseRetryDelay time.Duration `yaml:"base_retry_delay"`
	ThumbnailSize  int           `yaml:"thumbnail_size" validate:"gte=16"`
	DetectMaxSide  int           `yaml:"detect_max_side" validate:"gte=64"`
}

type RecoveryConfig struct {
	Ceiling int           `yaml:"ceiling" validate:"gte=1"` // resets before a photo is marked stuck
	Grace   time.Duration `yaml:"grace"`                    // only rows claimed longer ago than this are orphans
}

type FaceAPIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"` // Base URL of the Python InsightFace service
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type IdentifyConfig struct {
	MatchThreshold float64 `yaml:"match_threshold" validate:"gt=0,lte=1"`
	MinConfidence  float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
}

type CloudConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=none gdrive minio"`
	RemoteRoot   string        `yaml:"remote_root"`
	MirrorDirs   []string      `yaml:"mirror_dirs"` // relative to EventRoot
	CallTimeout  time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Cron         string        `yaml:"cron"`
	Interval     time.Duration `yaml:"interval"`

	Drive GoogleDriveConfig `yaml:"drive"`
	MinIO MinIOConfig       `yaml:"minio"`
}

type GoogleDriveConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	RefreshToken    string `yaml:"refresh_token"`
	CredentialsFile string `yaml:"credentials_file"` // service account JSON, used instead of the refresh token
	RootFolderID    string `yaml:"root_folder_id"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type ServerConfig struct {
	Port       string          `yaml:"port"`
	AdminToken string          `yaml:"admin_token"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxRequests   int  `yaml:"max_requests"`
	WindowSeconds int  `yaml:"window_seconds"`
}

type LogConfig struct {
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name: "faceforward",
			Env:  "development",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "faceforward.db",
			Host:         "localhost",
			Port:         "5432",
			User:         "postgres",
			DBName:       "faceforward",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Paths: PathsConfig{
			EventRoot:  "EventRoot",
			Intake:     "Intake",
			Processed:  "Processed",
			People:     "People",
			NoMatch:    "NoMatch",
			NoFaces:    "NoFaces",
			Thumbnails: "Thumbnails",
		},
		Intake: IntakeConfig{
			StableWindow:   2 * time.Second,
			RescanInterval: 30 * time.Second,
			HashAttempts:   5,
			HashRetryDelay: 500 * time.Millisecond,
		},
		Worker: WorkerConfig{
			Concurrency:    3,
			BatchSize:      20,
			PollInterval:   5 * time.Second,
			MaxRetries:     3,
			BaseRetryDelay: 2 * time.Second,
			ThumbnailSize:  320,
			DetectMaxSide:  1920,
		},
		Recovery: RecoveryConfig{
			Ceiling: 3,
		},
		FaceAPI: FaceAPIConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 120 * time.Second,
		},
		Identify: IdentifyConfig{
			MatchThreshold: 0.45,
			MinConfidence:  0.5,
		},
		Cloud: CloudConfig{
			Backend:      "none",
			RemoteRoot:   "EventRoot",
			MirrorDirs:   []string{"People", "NoMatch"},
			CallTimeout:  60 * time.Second,
			MaxRetries:   4,
			RetryBackoff: time.Second,
			Cron:         "*/10 * * * *",
			Interval:     time.Minute,
		},
		Server: ServerConfig{
			Port: "8080",
			RateLimit: RateLimitConfig{
				Enabled:       true,
				MaxRequests:   120,
				WindowSeconds: 60,
			},
		},
		Log: LogConfig{
			Dir:     "logs",
			Console: true,
			Level:   "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// then the environment (including .env). The environment always wins.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if exists (optional for production)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cloud.Backend != "none" && strings.Trim(filepath.ToSlash(strings.TrimSpace(c.Cloud.RemoteRoot)), "/") == "" {
		return fmt.Errorf("invalid config: %s backend needs a named CLOUD_REMOTE_ROOT folder", c.Cloud.Backend)
	}
	switch c.Cloud.Backend {
	case "gdrive":
		if c.Cloud.Drive.CredentialsFile == "" && c.Cloud.Drive.RefreshToken == "" {
			return fmt.Errorf("invalid config: gdrive backend needs GDRIVE_CREDENTIALS_FILE or GDRIVE_REFRESH_TOKEN")
		}
	case "minio":
		if c.Cloud.MinIO.Endpoint == "" || c.Cloud.MinIO.Bucket == "" {
			return fmt.Errorf("invalid config: minio backend needs MINIO_ENDPOINT and MINIO_BUCKET")
		}
	}
	return nil
}

// Dir resolves a layout directory against the event root.
func (p PathsConfig) Dir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.EventRoot, name)
}

func (p PathsConfig) IntakeDir() string     { return p.Dir(p.Intake) }
func (p PathsConfig) ProcessedDir() string  { return p.Dir(p.Processed) }
func (p PathsConfig) PeopleDir() string     { return p.Dir(p.People) }
func (p PathsConfig) NoMatchDir() string    { return p.Dir(p.NoMatch) }
func (p PathsConfig) NoFacesDir() string    { return p.Dir(p.NoFaces) }
func (p PathsConfig) ThumbnailsDir() string { return p.Dir(p.Thumbnails) }

// Ensure creates every layout directory.
func (p PathsConfig) Ensure() error {
	for _, dir := range []string{p.IntakeDir(), p.ProcessedDir(), p.PeopleDir(), p.NoMatchDir(), p.NoFacesDir(), p.ThumbnailsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.App.Name, "APP_NAME")
	setString(&cfg.App.Env, "APP_ENV")

	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.DBName, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")
	setInt(&cfg.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	setBool(&cfg.Database.LogQueries, "DB_LOG_QUERIES")

	setString(&cfg.Paths.EventRoot, "EVENT_ROOT")
	setString(&cfg.Paths.Intake, "INTAKE_DIR")
	setString(&cfg.Paths.Processed, "PROCESSED_DIR")
	setString(&cfg.Paths.People, "PEOPLE_DIR")
	setString(&cfg.Paths.NoMatch, "NO_MATCH_DIR")
	setString(&cfg.Paths.NoFaces, "NO_FACES_DIR")
	setString(&cfg.Paths.Thumbnails, "THUMBNAILS_DIR")

	setDuration(&cfg.Intake.StableWindow, "INTAKE_STABLE_WINDOW")
	setDuration(&cfg.Intake.RescanInterval, "INTAKE_RESCAN_INTERVAL")
	setInt(&cfg.Intake.HashAttempts, "INTAKE_HASH_ATTEMPTS")
	setDuration(&cfg.Intake.HashRetryDelay, "INTAKE_HASH_RETRY_DELAY")

	setInt(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	setInt(&cfg.Worker.BatchSize, "WORKER_BATCH_SIZE")
	setDuration(&cfg.Worker.PollInterval, "WORKER_POLL_INTERVAL")
	setInt(&cfg.Worker.MaxRetries, "WORKER_MAX_RETRIES")
	setDuration(&cfg.Worker.BaseRetryDelay, "WORKER_BASE_RETRY_DELAY")
	setInt(&cfg.Worker.ThumbnailSize, "THUMBNAIL_SIZE")
	setInt(&cfg.Worker.DetectMaxSide, "DETECT_MAX_SIDE")

	setInt(&cfg.Recovery.Ceiling, "RECOVERY_CEILING")
	setDuration(&cfg.Recovery.Grace, "RECOVERY_GRACE")

	setString(&cfg.FaceAPI.BaseURL, "FACE_API_URL")
	setDuration(&cfg.FaceAPI.Timeout, "FACE_API_TIMEOUT")

	setFloat(&cfg.Identify.MatchThreshold, "FACE_MATCH_THRESHOLD")
	setFloat(&cfg.Identify.MinConfidence, "FACE_MIN_CONFIDENCE")

	setString(&cfg.Cloud.Backend, "CLOUD_BACKEND")
	setString(&cfg.Cloud.RemoteRoot, "CLOUD_REMOTE_ROOT")
	if v := os.Getenv("CLOUD_MIRROR_DIRS"); v != "" {
		cfg.Cloud.MirrorDirs = splitList(v)
	}
	setDuration(&cfg.Cloud.CallTimeout, "CLOUD_CALL_TIMEOUT")
	setInt(&cfg.Cloud.MaxRetries, "CLOUD_MAX_RETRIES")
	setDuration(&cfg.Cloud.RetryBackoff, "CLOUD_RETRY_BACKOFF")
	setString(&cfg.Cloud.Cron, "CLOUD_SYNC_CRON")
	setDuration(&cfg.Cloud.Interval, "CLOUD_SYNC_INTERVAL")

	setString(&cfg.Cloud.Drive.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Cloud.Drive.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Cloud.Drive.RefreshToken, "GDRIVE_REFRESH_TOKEN")
	setString(&cfg.Cloud.Drive.CredentialsFile, "GDRIVE_CREDENTIALS_FILE")
	setString(&cfg.Cloud.Drive.RootFolderID, "GDRIVE_ROOT_FOLDER_ID")

	setString(&cfg.Cloud.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Cloud.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Cloud.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Cloud.MinIO.Bucket, "MINIO_BUCKET")
	setBool(&cfg.Cloud.MinIO.UseSSL, "MINIO_USE_SSL")
	setString(&cfg.Cloud.MinIO.Prefix, "MINIO_PREFIX")

	setString(&cfg.Server.Port, "APP_PORT")
	setString(&cfg.Server.AdminToken, "ADMIN_TOKEN")
	setBool(&cfg.Server.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.MaxRequests, "RATE_LIMIT_MAX_REQUESTS")
	setInt(&cfg.Server.RateLimit.WindowSeconds, "RATE_LIMIT_WINDOW_SECONDS")

	setString(&cfg.Log.Dir, "LOG_DIR")
	setBool(&cfg.Log.Console, "LOG_CONSOLE")
	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
