package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"midnight-protocol"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"midnight"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated). Empty disables event publishing.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for pipeline lifecycle events
	KafkaEventTopic string `env:"KAFKA_EVENT_TOPIC" env-default:"pipeline-events"`

	// LLM provider: openai, anthropic or ollama
	LLMProvider string `env:"LLM_PROVIDER" env-default:"openai"`
	// LLM model name
	LLMModel string `env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	// LLM API key
	LLMAPIKey string `env:"LLM_API_KEY" env-default:""`
	// Ollama server URL (only for the ollama provider)
	LLMServerURL string `env:"LLM_SERVER_URL" env-default:"http://localhost:11434"`
	// Per-call completion timeout
	LLMTimeout time.Duration `env:"LLM_TIMEOUT" env-default:"60s"`

	// Matching settings
	// Compatibility score required to schedule a conversation
	MatchScoreThreshold float64 `env:"MATCH_SCORE_THRESHOLD" env-default:"0.7"`
	// Notification score required for a match to reach a morning digest
	NotifyScoreThreshold float64 `env:"NOTIFY_SCORE_THRESHOLD" env-default:"0.5"`
	// Default pair generation batch size
	MatchBatchSize int `env:"MATCH_BATCH_SIZE" env-default:"50"`
	// Delay between consecutive pair analyses
	AnalysisDelay time.Duration `env:"ANALYSIS_DELAY" env-default:"2s"`
	// Analysis attempts before a match is failed
	MaxAnalysisAttempts int `env:"MAX_ANALYSIS_ATTEMPTS" env-default:"3"`
	// Conversation attempts before a match is failed
	MaxConversationAttempts int `env:"MAX_CONVERSATION_ATTEMPTS" env-default:"3"`
	// Fallback UTC offset hours when a participant has no usable timezone
	DefaultUTCOffsetHours int `env:"DEFAULT_UTC_OFFSET_HOURS" env-default:"-8"`

	// Scheduler settings
	// Poll interval for activating due matches
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"1m"`
	// Max matches activated per cycle
	SchedulerBatchSize int `env:"SCHEDULER_BATCH_SIZE" env-default:"100"`

	// Email settings
	// Email provider API base URL
	EmailAPIBaseURL string `env:"EMAIL_API_BASE_URL" env-default:"https://api.resend.com"`
	// Email provider API key
	EmailAPIKey string `env:"EMAIL_API_KEY" env-default:""`
	// From address for morning reports
	EmailFromAddress string `env:"EMAIL_FROM_ADDRESS" env-default:"reports@midnightprotocol.dev"`
	// Placeholder recipient for participants without an email
	EmailFallbackAddress string `env:"EMAIL_FALLBACK_ADDRESS" env-default:"unknown@midnightprotocol.dev"`
	// Provider requests allowed per second
	EmailRateLimitPerSecond int `env:"EMAIL_RATE_LIMIT_PER_SECOND" env-default:"2"`
	// Retries on provider rate-limit responses
	EmailMaxRetries int `env:"EMAIL_MAX_RETRIES" env-default:"3"`
	// Base delay for email retry backoff
	EmailRetryBaseDelay time.Duration `env:"EMAIL_RETRY_BASE_DELAY" env-default:"1s"`
	// Cap for email retry backoff
	EmailRetryMaxDelay time.Duration `env:"EMAIL_RETRY_MAX_DELAY" env-default:"8s"`
	// TTL for cached participant contact lookups
	ContactCacheTTL time.Duration `env:"CONTACT_CACHE_TTL" env-default:"5m"`

	// OTLP endpoint for trace export. Empty disables tracing.
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:""`
	// OTLP protocol: grpc or http
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// OTLP insecure mode (no TLS)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
