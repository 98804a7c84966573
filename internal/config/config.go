package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all process-level settings. Values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	ListenAddr string

	// BaseDir is where uploads, intermediate artifacts, skills and the
	// SQLite database live. HostDir is the same tree as seen by the
	// container runtime when the server itself runs inside a container;
	// it defaults to BaseDir.
	BaseDir string
	HostDir string
	DBPath  string

	JWTSecret        string
	JWTAlgorithm     string
	JWTExpireMinutes int

	AnthropicAPIKey string
	OpenAIAPIKey    string

	SandboxImage          string
	SandboxCommandTimeout time.Duration
	SandboxCommandCap     time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. If envFile is non-empty and
// exists it is loaded first without overriding already-set variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	baseDir := getEnv("DEEPSERVE_BASE_DIR", "./data")
	cfg := &Config{
		ListenAddr:            getEnv("DEEPSERVE_LISTEN_ADDR", ":8000"),
		BaseDir:               baseDir,
		HostDir:               getEnv("DEEPSERVE_HOST_DIR", baseDir),
		DBPath:                getEnv("DEEPSERVE_DB_PATH", filepath.Join(baseDir, "deepserve.db")),
		JWTSecret:             getEnv("JWT_SECRET_KEY", ""),
		JWTAlgorithm:          getEnv("JWT_ALGORITHM", "HS256"),
		JWTExpireMinutes:      getEnvInt("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 1440),
		AnthropicAPIKey:       getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		SandboxImage:          getEnv("DEEPSERVE_SANDBOX_IMAGE", "deepserve-sandbox"),
		SandboxCommandTimeout: time.Duration(getEnvInt("DEEPSERVE_SANDBOX_TIMEOUT_SECONDS", 120)) * time.Second,
		SandboxCommandCap:     time.Duration(getEnvInt("DEEPSERVE_SANDBOX_TIMEOUT_CAP_SECONDS", 600)) * time.Second,
		LogLevel:              getEnv("DEEPSERVE_LOG_LEVEL", "info"),
		LogFormat:             getEnv("DEEPSERVE_LOG_FORMAT", "text"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm %q (only HS256)", c.JWTAlgorithm)
	}
	if c.SandboxCommandCap < c.SandboxCommandTimeout {
		return fmt.Errorf("sandbox timeout cap %s below default %s", c.SandboxCommandCap, c.SandboxCommandTimeout)
	}
	return nil
}

// UploadsDir returns the host upload directory for a user/conversation pair.
func (c *Config) UploadsDir(userID int64, conversationID string) string {
	return filepath.Join(c.BaseDir, "uploads", strconv.FormatInt(userID, 10), conversationID)
}

// IntermediateDir returns the host intermediate directory for a
// user/conversation pair.
func (c *Config) IntermediateDir(userID int64, conversationID string) string {
	return filepath.Join(c.BaseDir, "intermediate", strconv.FormatInt(userID, 10), conversationID)
}

// SkillsDir returns the canonical skills directory.
func (c *Config) SkillsDir() string {
	return filepath.Join(c.BaseDir, "skills")
}

// HostPath translates a BaseDir-relative path into the path the container
// runtime sees. Paths outside BaseDir are returned unchanged.
func (c *Config) HostPath(path string) string {
	if c.HostDir == c.BaseDir {
		return path
	}
	rel, err := filepath.Rel(c.BaseDir, path)
	if err != nil {
		return path
	}
	return filepath.Join(c.HostDir, rel)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
