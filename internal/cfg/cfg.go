package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	AuthToken             string
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	QdrantEndpoint        string
	QdrantCollection      string
	QdrantAPIKey          string
	SlackWebhookURL       string
	SheetsEndpoint        string
	SheetsName            string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailFrom             string
	EmailTo               string
	WorkflowEndpoint      string
	WorkflowName          string
	CallbackBaseURL       string
	MaxConcurrency        int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.AuthToken, "auth-token", "", "bearer token required on mutating API routes (empty = auth disabled)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.QdrantEndpoint, "qdrant-endpoint", "", "Qdrant endpoint for similarity search (empty = in-memory index)")
	fs.StringVar(&c.QdrantCollection, "qdrant-collection", "incidents", "Qdrant collection holding incident embeddings")
	fs.StringVar(&c.QdrantAPIKey, "qdrant-api-key", "", "Qdrant API key")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for result notifications")
	fs.StringVar(&c.SheetsEndpoint, "sheets-endpoint", "", "spreadsheet bridge endpoint for result rows")
	fs.StringVar(&c.SheetsName, "sheets-name", "incidents", "sheet name to append result rows to")
	fs.StringVar(&c.SMTPHost, "smtp-host", "", "SMTP host for email delivery (empty = email disabled)")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP port")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP password")
	fs.StringVar(&c.EmailFrom, "email-from", "", "From address for email delivery")
	fs.StringVar(&c.EmailTo, "email-to", "", "comma-separated recipient addresses for email delivery")
	fs.StringVar(&c.WorkflowEndpoint, "workflow-endpoint", "", "workflow engine endpoint (empty = run pipeline in process)")
	fs.StringVar(&c.WorkflowName, "workflow-name", "incident-analysis", "workflow name to start on the engine")
	fs.StringVar(&c.CallbackBaseURL, "callback-base-url", "", "externally reachable base URL for workflow callbacks")
	fs.IntVar(&c.MaxConcurrency, "max-concurrency", 10, "batch chunk size: incidents processed concurrently per chunk (1..100)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required unless runs are delegated to the engine
	if c.ClaudeAPIKey == "" && c.WorkflowEndpoint == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.MaxConcurrency <= 0 || c.MaxConcurrency > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENCY %d (must be 1..100)", c.MaxConcurrency))
	}

	// The engine needs somewhere to post results back to
	if c.WorkflowEndpoint != "" && c.CallbackBaseURL == "" {
		errs = append(errs, errors.New("CALLBACK_BASE_URL is required when WORKFLOW_ENDPOINT is set"))
	}

	if c.SMTPHost != "" {
		if c.EmailFrom == "" {
			errs = append(errs, errors.New("EMAIL_FROM is required when SMTP_HOST is set"))
		}
		if c.EmailTo == "" {
			errs = append(errs, errors.New("EMAIL_TO is required when SMTP_HOST is set"))
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Recipients splits the comma-separated EmailTo list, dropping empties.
func (c *Config) Recipients() []string {
	var out []string
	for _, addr := range strings.Split(c.EmailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
