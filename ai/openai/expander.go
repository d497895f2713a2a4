// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/poiesic/medfuse/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const maxExpansionTerms = 8

// QueryExpander implements ai.QueryExpander on any langchaingo chat model.
type QueryExpander struct {
	client llms.Model
	logger *slog.Logger
}

var _ ai.QueryExpander = (*QueryExpander)(nil)

// expansion is the wrapper structure for the LLM's JSON response.
type expansion struct {
	Terms []string `json:"terms"`
}

func newQueryExpander(config *ai.Config) (*QueryExpander, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.Token()),
		openai.WithModel(config.ChatModel),
	)
	if err != nil {
		return nil, err
	}
	return NewModelExpander(client), nil
}

// NewQueryExpander creates a query expander using the chat settings of config.
// Returns ai.QueryExpander interface to enforce abstraction.
func NewQueryExpander(config *ai.Config) (ai.QueryExpander, error) {
	return newQueryExpander(config)
}

// NewModelExpander wraps an already constructed langchaingo model.
func NewModelExpander(model llms.Model) *QueryExpander {
	return &QueryExpander{
		client: model,
		logger: slog.Default().With("component", "query-expander"),
	}
}

// ExpandQuery asks the model for clinical synonyms of query.
func (e *QueryExpander) ExpandQuery(ctx context.Context, query string) ([]string, error) {
	query = scrubString(query)
	if query == "" {
		return []string{}, nil
	}

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(query)},
		},
	}

	// Try up to 3 times in case of malformed JSON
	var result expansion
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, ai.ClassifyHTTPError("chat", err)
		}

		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model")
			return []string{}, nil
		}

		responseText := stripFences(response.Choices[0].Content)
		responseText = repairJSON(responseText)

		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			e.logger.Warn("error parsing expansion response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse expansion response after retries", "err", lastErr)
		return nil, lastErr
	}

	terms := cleanTerms(query, result.Terms)
	e.logger.Debug("expanded query", "query", query, "terms", terms)
	return terms, nil
}

// cleanTerms lowercases, trims and deduplicates terms, dropping any that
// repeat the query itself.
func cleanTerms(query string, raw []string) []string {
	seen := map[string]bool{strings.ToLower(query): true}
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
		if len(terms) == maxExpansionTerms {
			break
		}
	}
	return terms
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
