package carapace

import "go.uber.org/zap"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath  string
	journalPath string
	agentID     string
	logger      *zap.Logger
}

// WithConfig sets the path to a config YAML file. Without it the
// embedded defaults apply.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithJournal enables the hash-chained decision journal at path.
func WithJournal(path string) Option {
	return func(c *clientConfig) { c.journalPath = path }
}

// WithAgentID stamps an agent identifier on every proposal.
func WithAgentID(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithLogger sets the structured logger. Default is no logging.
func WithLogger(log *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = log }
}
