package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Step log backends.
const (
	StepLogMemory   = "memory"
	StepLogPostgres = "postgres"
	StepLogRedis    = "redis"
)

// Config holds the application settings. Package configs registered by main
// (http server, logging, ops, tracing, profiling) live in go-core.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string

	DatabaseURL   string
	RedisURL      string
	StepLog       string
	StepRecordTTL time.Duration
	SeedFile      string

	NATSURL     string
	NATSSubject string
	NATSQueue   string

	OpenRouterAPIKey  string
	OpenRouterModel   string
	HuggingFaceAPIKey string
	HuggingFaceModel  string
	GeminiAPIKey      string
	GeminiModel       string
	GrokAPIKey        string
	GrokModel         string
	DeepSeekAPIKey    string
	DeepSeekModel     string
	OpenAIAPIKey      string
	OpenAIModel       string
	ClaudeAPIKey      string
	ClaudeModel       string

	AnalysisMaxAttempts int
	AnalysisBaseDelay   time.Duration
	AnalysisMaxDelay    time.Duration
	AnalysisCallTimeout time.Duration

	StepMaxAttempts int
	StepBaseDelay   time.Duration
	StepMaxDelay    time.Duration
	StoreTimeout    time.Duration

	ResendAPIKey    string
	MailFrom        string
	NotifyTimeout   time.Duration
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens for the event API (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory ticket store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the step log (redis://...)")
	fs.StringVar(&c.StepLog, "step-log", "", "step log backend: memory, postgres or redis (empty = postgres when database-url is set, else memory)")
	fs.DurationVar(&c.StepRecordTTL, "step-record-ttl", 7*24*time.Hour, "expiry for redis step records (0 = keep)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML file of users and tickets loaded at startup")

	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for ticket events (empty = HTTP trigger only)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "ticket.created", "NATS subject carrying ticket-created events")
	fs.StringVar(&c.NATSQueue, "nats-queue", "ticketflow", "NATS queue group")

	fs.StringVar(&c.OpenRouterAPIKey, "openrouter-api-key", "", "OpenRouter API key (first in the cascade)")
	fs.StringVar(&c.OpenRouterModel, "openrouter-model", "", "OpenRouter model (empty = provider default)")
	fs.StringVar(&c.HuggingFaceAPIKey, "huggingface-api-key", "", "HuggingFace router API key")
	fs.StringVar(&c.HuggingFaceModel, "huggingface-model", "", "HuggingFace router model")
	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "Gemini API key")
	fs.StringVar(&c.GeminiModel, "gemini-model", "", "Gemini model")
	fs.StringVar(&c.GrokAPIKey, "grok-api-key", "", "xAI Grok API key")
	fs.StringVar(&c.GrokModel, "grok-model", "", "Grok model")
	fs.StringVar(&c.DeepSeekAPIKey, "deepseek-api-key", "", "DeepSeek API key")
	fs.StringVar(&c.DeepSeekModel, "deepseek-model", "", "DeepSeek model")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key")
	fs.StringVar(&c.OpenAIModel, "openai-model", "", "OpenAI model")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key (last in the cascade)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.IntVar(&c.AnalysisMaxAttempts, "analysis-max-attempts", 2, "calls per provider before moving on (1..10)")
	fs.DurationVar(&c.AnalysisBaseDelay, "analysis-base-delay", time.Second, "first backoff delay between provider retries")
	fs.DurationVar(&c.AnalysisMaxDelay, "analysis-max-delay", 30*time.Second, "backoff delay cap between provider retries")
	fs.DurationVar(&c.AnalysisCallTimeout, "analysis-call-timeout", 60*time.Second, "timeout for a single provider call")

	fs.IntVar(&c.StepMaxAttempts, "step-max-attempts", 3, "attempts per workflow step before its fallback (1..10)")
	fs.DurationVar(&c.StepBaseDelay, "step-base-delay", 500*time.Millisecond, "first backoff delay between step attempts")
	fs.DurationVar(&c.StepMaxDelay, "step-max-delay", 10*time.Second, "backoff delay cap between step attempts")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", 5*time.Second, "timeout for a single ticket or user store call")

	fs.StringVar(&c.ResendAPIKey, "resend-api-key", "", "Resend API key (empty = log notices instead of mailing)")
	fs.StringVar(&c.MailFrom, "mail-from", "", "From address for assignment emails")
	fs.DurationVar(&c.NotifyTimeout, "notify-timeout", 15*time.Second, "timeout for each notification delivery")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for assignment posts")
}

// Tokens returns the non-blank API tokens.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StepLogBackend resolves the configured or implied step log backend.
func (c *Config) StepLogBackend() string {
	if c.StepLog != "" {
		return c.StepLog
	}
	if c.DatabaseURL != "" {
		return StepLogPostgres
	}
	return StepLogMemory
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.StepLogBackend() {
	case StepLogMemory:
	case StepLogPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("STEP_LOG postgres requires DATABASE_URL"))
		}
	case StepLogRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("STEP_LOG redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STEP_LOG %q (must be memory, postgres or redis)", c.StepLog))
	}
	if c.StepRecordTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid STEP_RECORD_TTL %s (must be >= 0)", c.StepRecordTTL))
	}

	if c.NATSURL != "" && (c.NATSSubject == "" || c.NATSQueue == "") {
		errs = append(errs, errors.New("NATS_SUBJECT and NATS_QUEUE are required with NATS_URL"))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required with CLAUDE_API_KEY"))
	}

	if c.AnalysisMaxAttempts < 1 || c.AnalysisMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid ANALYSIS_MAX_ATTEMPTS %d (must be 1..10)", c.AnalysisMaxAttempts))
	}
	if c.StepMaxAttempts < 1 || c.StepMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid STEP_MAX_ATTEMPTS %d (must be 1..10)", c.StepMaxAttempts))
	}
	errs = append(errs,
		positive("ANALYSIS_BASE_DELAY", c.AnalysisBaseDelay),
		positive("ANALYSIS_CALL_TIMEOUT", c.AnalysisCallTimeout),
		positive("STEP_BASE_DELAY", c.StepBaseDelay),
		positive("STORE_TIMEOUT", c.StoreTimeout),
		positive("NOTIFY_TIMEOUT", c.NotifyTimeout),
	)
	if c.AnalysisMaxDelay < c.AnalysisBaseDelay {
		errs = append(errs, fmt.Errorf("ANALYSIS_MAX_DELAY %s must be >= ANALYSIS_BASE_DELAY %s", c.AnalysisMaxDelay, c.AnalysisBaseDelay))
	}
	if c.StepMaxDelay < c.StepBaseDelay {
		errs = append(errs, fmt.Errorf("STEP_MAX_DELAY %s must be >= STEP_BASE_DELAY %s", c.StepMaxDelay, c.StepBaseDelay))
	}

	if c.ResendAPIKey != "" && !strings.Contains(c.MailFrom, "@") {
		errs = append(errs, errors.New("MAIL_FROM must be an email address when RESEND_API_KEY is set"))
	}

	return errors.Join(errs...)
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid %s %s (must be > 0)", name, d)
	}
	return nil
}
