package config

import "time"

// ServerConfig holds runtime configuration for the preview verification service.
type ServerConfig struct {
	Environment string
	Addr        string
	LogLevel    string
	LogFile     string

	StoreDriver         string
	DatabaseURL         string
	RecordEncryptionKey string
	PreviewTTL          time.Duration
	ExpirySweepEvery    time.Duration

	JWTSecret string

	DeployProvider string
	DeployAPIURL   string
	DeployAPIToken string
	DeployTeamID   string
	DeployTimeout  time.Duration
	DockerHost     string
	BuildWorkdir   string
	PreviewHost    string

	PollInterval            time.Duration
	PollMaxAttempts         int
	MaxAutoFixAttempts      int
	MaxAutoFixAttemptsLimit int

	RepairProvider        string
	RepairModel           string
	RepairAPIKey          string
	RepairBaseURL         string
	RepairTimeout         time.Duration
	RepairCircuitFailures int
	RepairCircuitCooldown time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("PREVIEWD_ADDR", ":4100"),
		LogLevel:    GetString("LOG_LEVEL", "info"),
		LogFile:     GetString("LOG_FILE", ""),

		StoreDriver:         GetString("STORE_DRIVER", "postgres"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://previewd:previewd@db:5432/previewd?sslmode=disable"),
		RecordEncryptionKey: GetString("RECORD_ENCRYPTION_KEY", ""),
		PreviewTTL:          time.Duration(GetInt("PREVIEW_TTL_HOURS", 24)) * time.Hour,
		ExpirySweepEvery:    GetSeconds("EXPIRY_SWEEP_SECONDS", 300),

		JWTSecret: GetString("JWT_SECRET", "supersecuresecret"),

		DeployProvider: GetString("DEPLOY_PROVIDER", "remote"),
		DeployAPIURL:   GetString("DEPLOY_API_URL", "https://api.vercel.com"),
		DeployAPIToken: GetString("DEPLOY_API_TOKEN", ""),
		DeployTeamID:   GetString("DEPLOY_TEAM_ID", ""),
		DeployTimeout:  GetSeconds("DEPLOY_HTTP_TIMEOUT_SECONDS", 30),
		DockerHost:     GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		BuildWorkdir:   GetString("BUILD_WORKDIR", "/tmp/previewd"),
		PreviewHost:    GetString("PREVIEW_HOST", "localhost"),

		PollInterval:            GetSeconds("POLL_INTERVAL_SECONDS", 2),
		PollMaxAttempts:         GetInt("POLL_MAX_ATTEMPTS", 60),
		MaxAutoFixAttempts:      GetInt("MAX_AUTOFIX_ATTEMPTS", 3),
		MaxAutoFixAttemptsLimit: GetInt("MAX_AUTOFIX_ATTEMPTS_LIMIT", 10),

		RepairProvider:        GetString("REPAIR_PROVIDER", "openai"),
		RepairModel:           GetString("REPAIR_MODEL", ""),
		RepairAPIKey:          GetString("REPAIR_API_KEY", ""),
		RepairBaseURL:         GetString("REPAIR_BASE_URL", ""),
		RepairTimeout:         GetSeconds("REPAIR_TIMEOUT_SECONDS", 120),
		RepairCircuitFailures: GetInt("REPAIR_CIRCUIT_FAILURES", 3),
		RepairCircuitCooldown: GetSeconds("REPAIR_CIRCUIT_COOLDOWN_SECONDS", 120),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
