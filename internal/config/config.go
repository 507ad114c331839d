package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/hackthon-glue/backend/internal/integrations/paramstore"
)

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	// DefaultAgentAliasID is Bedrock's built-in draft alias.
	DefaultAgentAliasID = "TSTALIASID"

	defaultRegion = "us-east-1"
	defaultModel  = "anthropic.claude-3-5-sonnet-20241022-v2:0"
)

type Config struct {
	AWSRegion       string        `env:"AWS_REGION"`
	ResultsBucket   string        `env:"PANEL_RESULTS_BUCKET" default:"hackthon-panel-discussions"`
	CacheBackend    string        `env:"CACHE_BACKEND" default:"memory"`
	RedisURL        string        `env:"REDIS_URL"`
	SessionTable    string        `env:"SESSION_TABLE"`
	AgentID         string        `env:"RAG_AGENT_ID"`
	AgentAliasID    string        `env:"RAG_AGENT_ALIAS_ID"`
	KnowledgeBaseID string        `env:"KNOWLEDGE_BASE_ID"`
	KBModelARN      string        `env:"KB_MODEL_ARN"`
	ParamPrefix     string        `env:"PARAM_PREFIX"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" default:"10s"`
	MaxMessageLen   int           `env:"MAX_MESSAGE_LENGTH" default:"4000"`
	LogLevel        string        `env:"LOG_LEVEL" default:"info"`
	LogFormat       string        `env:"LOG_FORMAT" default:"json"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.ResultsBucket) == "" {
		return errors.New("PANEL_RESULTS_BUCKET is required")
	}
	switch cfg.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, cfg.CacheBackend)
	}
	if cfg.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}
	if cfg.MaxMessageLen <= 0 {
		return errors.New("MAX_MESSAGE_LENGTH must be positive")
	}
	return nil
}

// ResolveAgentSettings fills unset agent settings from SSM under ParamPrefix
// and then requires an agent id. Values set in the environment win.
func (c *Config) ResolveAgentSettings(ctx context.Context, params paramstore.Getter) error {
	if c.ParamPrefix != "" && params != nil && (c.AgentID == "" || c.AgentAliasID == "" || c.KnowledgeBaseID == "") {
		agentKey := c.ParamPrefix + "/rag_agent_id"
		aliasKey := c.ParamPrefix + "/rag_agent_alias_id"
		kbKey := c.ParamPrefix + "/knowledge_base_id"

		values, err := params.Values(ctx, agentKey, aliasKey, kbKey)
		if err != nil {
			return fmt.Errorf("config: resolve agent settings: %w", err)
		}
		fill(&c.AgentID, values[agentKey])
		fill(&c.AgentAliasID, values[aliasKey])
		fill(&c.KnowledgeBaseID, values[kbKey])
	}

	if c.AgentAliasID == "" {
		c.AgentAliasID = DefaultAgentAliasID
	}
	if c.AgentID == "" {
		return errors.New("RAG_AGENT_ID is required")
	}
	return nil
}

// ModelARN is the foundation model used for direct knowledge-base queries.
func (c *Config) ModelARN() string {
	if c.KBModelARN != "" {
		return c.KBModelARN
	}
	region := c.AWSRegion
	if region == "" {
		region = defaultRegion
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, defaultModel)
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}
