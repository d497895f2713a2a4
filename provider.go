package medfuse

import (
	"fmt"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/ai/ollama"
	"github.com/poiesic/medfuse/ai/openai"
	"github.com/poiesic/medfuse/ai/openaisdk"
)

// NewProvider builds the AI provider selected by config.Provider.
// OpenAI-compatible servers and NIM go through langchaingo, the hosted
// OpenAI API through the go-openai SDK and Ollama through its native API.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	config.Normalize()
	switch config.Provider {
	case ai.ProviderCompatible, ai.ProviderNIM:
		return openai.NewProvider(config)
	case ai.ProviderOpenAI:
		return openaisdk.NewProvider(config)
	case ai.ProviderOllama:
		return ollama.NewProvider(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}
}
