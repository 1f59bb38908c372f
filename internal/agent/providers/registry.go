package providers

import (
	"fmt"
	"sort"
	"time"

	"github.com/haasonsaas/relay/internal/agent"
)

// Options carries the construction-time settings shared by every backend.
// Fields a backend does not use are ignored.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration

	// AWS settings, used by the bedrock backend only.
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// factories is the static table of known backends. Selection happens here,
// at construction time; nothing downstream switches on provider names.
var factories = map[string]func(Options) (agent.Provider, error){
	"anthropic": func(opts Options) (agent.Provider, error) {
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			DefaultModel: opts.DefaultModel,
			MaxRetries:   opts.MaxRetries,
			RetryDelay:   opts.RetryDelay,
		})
	},
	"openai": func(opts Options) (agent.Provider, error) {
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			DefaultModel: opts.DefaultModel,
			MaxRetries:   opts.MaxRetries,
			RetryDelay:   opts.RetryDelay,
		})
	},
	"bedrock": func(opts Options) (agent.Provider, error) {
		return NewBedrockProvider(BedrockConfig{
			Region:          opts.Region,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			SessionToken:    opts.SessionToken,
			DefaultModel:    opts.DefaultModel,
			MaxRetries:      opts.MaxRetries,
			RetryDelay:      opts.RetryDelay,
		})
	},
}

// New constructs the named provider backend.
func New(name string, opts Options) (agent.Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %v)", name, Names())
	}
	return factory(opts)
}

// Names lists the known backends in stable order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
