package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

// ImageBackend renders an image for a prompt and returns a URL (typically a
// data URL). Implementations adapt the configured image provider.
type ImageBackend interface {
	Generate(ctx context.Context, prompt, style string) (string, error)
	Name() string
}

// ImageGenerator produces an image from the orchestrator's (or the user's)
// prompt and appends it to the run's tool outputs.
type ImageGenerator struct {
	backend ImageBackend
	logger  *zap.Logger
}

// NewImageGenerator creates the image handler. A nil backend reports a
// recoverable error so runs without an image provider still complete.
func NewImageGenerator(backend ImageBackend, logger *zap.Logger) *ImageGenerator {
	return &ImageGenerator{
		backend: backend,
		logger:  logger.With(zap.String("agent", "image_generator")),
	}
}

// Execute implements workflow.Handler.
func (a *ImageGenerator) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	prompt := req.UserMessage
	style := settingString(req.Settings, "imageStyle", "photo")

	// The orchestrator's refined prompt wins over the raw user message.
	if orchestrated, ok := req.Context[workflow.KeyOrchestratorResult].(map[string]any); ok {
		if p, ok := orchestrated["image_prompt"].(string); ok && p != "" {
			prompt = p
		}
		if t, ok := orchestrated["image_type"].(string); ok && t != "" {
			style = t
		}
	}

	if a.backend == nil {
		return &workflow.Result{
			Action:  "generate_image",
			Content: "Image generation is not configured.",
			Err:     "no image provider configured",
			Metadata: map[string]any{
				"model": "none",
			},
		}, nil
	}

	url, err := a.backend.Generate(ctx, prompt, style)
	if err != nil {
		return &workflow.Result{
			Action:  "generate_image",
			Content: "",
			Err:     fmt.Sprintf("image generation failed: %v", err),
			Metadata: map[string]any{
				"model":  a.backend.Name(),
				"prompt": prompt,
			},
		}, nil
	}

	image := map[string]any{
		"prompt": prompt,
		"style":  style,
		"url":    url,
	}

	return &workflow.Result{
		Action:  "generate_image",
		Content: fmt.Sprintf("Generated %s image for: %s", style, prompt),
		Metadata: map[string]any{
			"model":  a.backend.Name(),
			"prompt": prompt,
			"style":  style,
		},
		ContextUpdates: map[string]any{
			"images": []any{image},
		},
	}, nil
}
