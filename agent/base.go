// Package agent implements the node-type handlers that execute workflow steps
// against the shared run context. Handlers satisfy the workflow.Handler
// contract; shared behaviour lives in thin helpers, not base classes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
)

// Gateway is the slice of the model gateway agents call.
type Gateway interface {
	Chat(ctx context.Context, class llm.ModelClass, messages []types.Message, opts llm.ChatOptions) (string, error)
	Model(class llm.ModelClass) string
}

// chat sends a system+user prompt pair and returns the assistant text.
func chat(ctx context.Context, gw Gateway, class llm.ModelClass, system, user string, temperature float32, maxTokens int) (string, error) {
	messages := make([]types.Message, 0, 2)
	if system != "" {
		messages = append(messages, types.SystemMessage(system))
	}
	messages = append(messages, types.UserMessage(user))
	return gw.Chat(ctx, class, messages, llm.ChatOptions{Temperature: temperature, MaxTokens: maxTokens})
}

// Settings readers. Node settings arrive as decoded JSON, so numbers are
// float64 and every read needs a tolerant conversion.

func settingString(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func settingInt(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func settingBool(settings map[string]any, key string, fallback bool) bool {
	if v, ok := settings[key].(bool); ok {
		return v
	}
	return fallback
}

// contextString reads a string context value.
func contextString(context map[string]any, key string) string {
	if v, ok := context[key].(string); ok {
		return v
	}
	return ""
}

// contextStrings reads a string-list context value, tolerating []any.
func contextStrings(context map[string]any, key string) []string {
	switch v := context[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// contextList reads a list context value.
func contextList(context map[string]any, key string) []any {
	switch v := context[key].(type) {
	case []any:
		return v
	case []map[string]any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = item
		}
		return result
	}
	return nil
}

// firstNonEmpty walks the given context keys and returns the first non-empty
// string value, falling back to joined context_snippets, then user_message.
func firstNonEmpty(req workflow.Request, keys ...string) (string, string) {
	for _, key := range keys {
		if v := strings.TrimSpace(contextString(req.Context, key)); v != "" {
			return v, key
		}
	}
	if snippets := contextStrings(req.Context, workflow.KeyContextSnippets); len(snippets) > 0 {
		return strings.Join(snippets, "\n\n"), workflow.KeyContextSnippets
	}
	if v := strings.TrimSpace(req.UserMessage); v != "" {
		return v, workflow.KeyUserMessage
	}
	return "", ""
}

// jsonObjectPattern matches the first {...} block in a model response.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONObject extracts and decodes the first JSON object in an LLM
// response, tolerating code fences and surrounding prose.
func parseJSONObject(response string, target any) error {
	cleaned := stripCodeFence(response)
	match := jsonObjectPattern.FindString(cleaned)
	if match == "" {
		return types.NewError(types.ErrParse, "no JSON object in response")
	}
	if err := json.Unmarshal([]byte(match), target); err != nil {
		return types.NewError(types.ErrParse, "malformed JSON in response").WithCause(err)
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// numberedSnippets renders search results for inclusion in a prompt.
func numberedSnippets(results []any, limit, budget int) string {
	if len(results) == 0 {
		return "No relevant documents found in knowledge base."
	}
	var b strings.Builder
	for i, raw := range results {
		if i >= limit {
			break
		}
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := item["title"].(string)
		snippet, _ := item["snippet"].(string)
		if len(snippet) > budget {
			snippet = snippet[:budget] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, title, snippet)
	}
	return b.String()
}
