// Package config loads the runtime settings from the environment. A local
// .env file is applied first when one exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SessionTable is the DynamoDB table for sessions. Empty selects the
	// in-memory store.
	SessionTable      string        `envconfig:"SESSION_TABLE"`
	ParamPrefix       string        `envconfig:"PARAM_PREFIX" default:"/statement-analyzer"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	MaxQuestionLength int           `envconfig:"MAX_QUESTION_LENGTH" default:"500"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

// APIKeyParameter is the parameter store name holding the Gemini key.
func (c Config) APIKeyParameter() string {
	return strings.TrimRight(c.ParamPrefix, "/") + "/gemini-api-key"
}

// Load reads the environment. envFile may be empty to skip dotenv loading;
// a missing file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.MaxQuestionLength <= 0 {
		return fmt.Errorf("config: MAX_QUESTION_LENGTH must be positive, got %d", c.MaxQuestionLength)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if strings.TrimSpace(c.GeminiModel) == "" {
		return errors.New("config: GEMINI_MODEL must not be empty")
	}
	return nil
}
