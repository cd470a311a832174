package workflow

// Documented context keys. Agents may introduce their own namespaced keys;
// the engine only ever references the ones below.
const (
	KeyUserMessage        = "user_message"
	KeyUploadedContent    = "uploaded_content"
	KeySupervisorPlan     = "supervisor_plan"
	KeySupervisorGuidance = "supervisor_guidance"
	KeySemanticResults    = "semantic_results"
	KeyContextSnippets    = "context_snippets"
	KeyDocs               = "docs"
	KeySelectedTools      = "selected_tools"
	KeyOrchestratorResult = "orchestrator_result"
	KeyCandidates         = "candidates"
	KeyFinalAnswer        = "final_answer"
	KeySummary            = "summary"
	KeyInputContent       = "input_content"
	KeyTransformedContent = "transformed_content"
	KeyTranslatedContent  = "translated_content"
	KeyToolOutputs        = "tool_outputs"
	KeyGraphNodes         = "graph_nodes"
	KeyAvailableTools     = "available_tools"
)

// ContextStore is the per-run keyed map of intermediate results. One instance
// exists per run and is never shared across runs. It is not safe for
// concurrent use; the executor serialises access and hands agents snapshots.
type ContextStore struct {
	values map[string]any
}

// NewContextStore creates the run context pre-seeded with the containers the
// documented vocabulary expects.
func NewContextStore() *ContextStore {
	return &ContextStore{
		values: map[string]any{
			KeyContextSnippets: []string{},
			KeySemanticResults: []any{},
			KeyCandidates:      []string{},
			KeyDocs:            []any{},
			KeyToolOutputs: map[string]any{
				"images":       []any{},
				"calculations": []any{},
				"web_results":  []any{},
			},
		},
	}
}

// Get returns the value for key.
func (c *ContextStore) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value for key when it is a non-empty string.
func (c *ContextStore) GetString(key string) string {
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return ""
}

// Set writes a value. A key written twice keeps the later value.
func (c *ContextStore) Set(key string, value any) {
	c.values[key] = value
}

// Merge folds an agent's context updates into the store. Most keys are
// last-write-wins; the accumulating keys append instead:
//
//	context_snippets, candidates  — string lists, extended
//	docs, semantic_results        — lists, extended
//	images                        — appended into tool_outputs.images
func (c *ContextStore) Merge(updates map[string]any) {
	for key, value := range updates {
		switch key {
		case KeyContextSnippets, KeyCandidates:
			c.values[key] = append(toStringSlice(c.values[key]), toStringSlice(value)...)
		case KeyDocs, KeySemanticResults:
			c.values[key] = append(toAnySlice(c.values[key]), toAnySlice(value)...)
		case "images":
			outputs := c.toolOutputs()
			outputs["images"] = append(toAnySlice(outputs["images"]), toAnySlice(value)...)
		default:
			c.values[key] = value
		}
	}
}

// AppendToolOutput appends values under a named tool-output bundle key.
func (c *ContextStore) AppendToolOutput(kind string, items ...any) {
	outputs := c.toolOutputs()
	outputs[kind] = append(toAnySlice(outputs[kind]), items...)
}

// ToolOutputs returns the tool-output bundle.
func (c *ContextStore) ToolOutputs() map[string]any {
	return c.toolOutputs()
}

// Snapshot returns a shallow copy of the key space. Values are shared
// by-reference within the run.
func (c *ContextStore) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}

func (c *ContextStore) toolOutputs() map[string]any {
	outputs, ok := c.values[KeyToolOutputs].(map[string]any)
	if !ok {
		outputs = map[string]any{}
		c.values[KeyToolOutputs] = outputs
	}
	return outputs
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case []any:
		result := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	case string:
		return []string{s}
	}
	return nil
}

func toAnySlice(v any) []any {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		return s
	case []string:
		result := make([]any, len(s))
		for i, item := range s {
			result[i] = item
		}
		return result
	default:
		return []any{v}
	}
}
