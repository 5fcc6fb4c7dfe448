package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the API service and the CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
	SQLitePath    string

	RateLimitCapacity int
	RateLimitRefill   float64

	WorkRoot          string
	ConversationLog   string
	StreamKeepalive   time.Duration
	CIPollInterval    time.Duration
	CIMaxWait         time.Duration
	GHCommandTimeout  time.Duration
	EventMirrorTTL    time.Duration
	ArtifactS3Bucket  string
	ArtifactS3Region  string
	ArtifactS3Endpt   string
	ArtifactS3Path    bool
	ArtifactKeyPrefix string

	Agent AgentConfig
}

// AgentConfig configures the coding agent collaborator.
type AgentConfig struct {
	Binary         string   `yaml:"binary"`
	PluginDir      string   `yaml:"plugin_dir"`
	TeamReposCSV   string   `yaml:"team_repos_csv"`
	AllowedTools   []string `yaml:"allowed_tools"`
	MaxTurns       int      `yaml:"max_turns"`
	Model          string   `yaml:"model"`
	PermissionMode string   `yaml:"permission_mode"`
}

var defaultAllowedTools = []string{
	"Bash", "Read", "Write", "Edit", "Glob", "Grep",
	"WebFetch", "WebSearch", "Skill", "Task",
}

// Load reads configuration from environment variables with sane defaults for local development.
// When OAPE_CONFIG names a YAML file its agent section overrides the environment.
func Load() (Config, error) {
	cfg := Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		SQLitePath:    getEnv("SQLITE_PATH", ".oape-work/history.db"),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 5),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.01),

		WorkRoot:          getEnv("OAPE_WORK_ROOT", os.TempDir()),
		ConversationLog:   getEnv("CONVERSATION_LOG", "/tmp/conversation.log"),
		StreamKeepalive:   getEnvDuration("STREAM_KEEPALIVE", 30*time.Second),
		CIPollInterval:    getEnvDuration("CI_POLL_INTERVAL", 60*time.Second),
		CIMaxWait:         getEnvDuration("CI_MAX_WAIT", 120*time.Minute),
		GHCommandTimeout:  getEnvDuration("GH_COMMAND_TIMEOUT", 30*time.Second),
		EventMirrorTTL:    getEnvDuration("EVENT_MIRROR_TTL", 7*24*time.Hour),
		ArtifactS3Bucket:  getEnv("ARTIFACT_S3_BUCKET", ""),
		ArtifactS3Region:  getEnv("ARTIFACT_S3_REGION", "us-east-1"),
		ArtifactS3Endpt:   getEnv("ARTIFACT_S3_ENDPOINT", ""),
		ArtifactS3Path:    getEnvBool("ARTIFACT_S3_PATH_STYLE", false),
		ArtifactKeyPrefix: getEnv("ARTIFACT_KEY_PREFIX", "oape"),

		Agent: AgentConfig{
			Binary:         getEnv("CLAUDE_BIN", "claude"),
			PluginDir:      getEnv("OAPE_PLUGIN_DIR", "plugins/oape"),
			TeamReposCSV:   getEnv("TEAM_REPOS_CSV", "team-repos.csv"),
			AllowedTools:   getEnvList("CLAUDE_ALLOWED_TOOLS", defaultAllowedTools),
			MaxTurns:       getEnvInt("MAX_AGENT_TURNS", 200),
			Model:          getEnv("CLAUDE_MODEL", ""),
			PermissionMode: getEnv("CLAUDE_PERMISSION_MODE", "bypassPermissions"),
		},
	}

	if path := os.Getenv("OAPE_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects intervals that would turn waits into busy loops.
func (c Config) validate() error {
	if c.StreamKeepalive <= 0 {
		return fmt.Errorf("STREAM_KEEPALIVE must be positive, got %s", c.StreamKeepalive)
	}
	if c.CIPollInterval <= 0 {
		return fmt.Errorf("CI_POLL_INTERVAL must be positive, got %s", c.CIPollInterval)
	}
	if c.CIMaxWait < 0 {
		return fmt.Errorf("CI_MAX_WAIT must not be negative, got %s", c.CIMaxWait)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
