package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

const codePrompt = `You are an expert software engineer. Generate complete, runnable code for the user's request.

Rules:
- Target language: %LANG%
- Produce complete code, not fragments; include imports and entry points where relevant.
- Follow the target language's idioms and naming conventions.
- Add brief comments only where the intent is not obvious from the code.
- Output ONLY the code, no surrounding explanation.`

// Code generates source code from the query and upstream context.
type Code struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewCode creates the code-generation handler.
func NewCode(gateway Gateway, logger *zap.Logger) *Code {
	return &Code{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "code")),
	}
}

// Execute implements workflow.Handler.
func (a *Code) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	language := settingString(req.Settings, "language", "python")

	system := strings.ReplaceAll(codePrompt, "%LANG%", language)

	user := req.UserMessage
	if content, _ := firstNonEmpty(req, workflow.KeyInputContent); content != "" && content != req.UserMessage {
		user += "\n\nRelevant context:\n" + content
	}

	code, err := chat(ctx, a.gateway, req.ModelClass, system, user, 0.2, 3000)
	if err != nil {
		return nil, err
	}
	code = stripCodeFence(code)

	return &workflow.Result{
		Action:  "generate_code",
		Content: code,
		Metadata: map[string]any{
			"language": language,
		},
		ContextUpdates: map[string]any{
			workflow.KeyFinalAnswer:  code,
			workflow.KeyInputContent: code,
		},
	}, nil
}
