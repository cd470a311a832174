package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/workflow"
)

// supportedLanguages maps language codes to display names for prompt clarity.
var supportedLanguages = map[string]string{
	"auto": "Auto-detect",
	"en":   "English",
	"ar":   "Arabic",
	"zh":   "Chinese (Simplified)",
	"fr":   "French",
	"de":   "German",
	"es":   "Spanish",
	"pt":   "Portuguese",
	"ru":   "Russian",
	"ja":   "Japanese",
	"ko":   "Korean",
	"it":   "Italian",
	"nl":   "Dutch",
	"pl":   "Polish",
	"tr":   "Turkish",
	"vi":   "Vietnamese",
	"th":   "Thai",
	"id":   "Indonesian",
	"hi":   "Hindi",
	"he":   "Hebrew",
	"sv":   "Swedish",
	"da":   "Danish",
	"no":   "Norwegian",
	"fi":   "Finnish",
	"el":   "Greek",
	"cs":   "Czech",
	"ro":   "Romanian",
	"hu":   "Hungarian",
	"uk":   "Ukrainian",
}

const translatorPrompt = `You are a professional translator. Your ONLY job is to translate text while keeping the EXACT same format.

TASK: Translate from %s to %s.

CRITICAL RULES - YOU MUST FOLLOW:
1. KEEP THE EXACT SAME FORMAT - if input is CSV, output must be CSV. If JSON, output JSON. If markdown table, output markdown table.
2. ONLY translate the actual text/words - never change structure, delimiters, or formatting
3. Keep column headers, row structure, JSON keys, markdown syntax EXACTLY as they are (but translate the text values)
4. Numbers, dates, codes, IDs must stay UNCHANGED
5. DO NOT add any explanations, notes, or commentary
6. DO NOT wrap output in code blocks or add formatting that wasn't there

OUTPUT: Return ONLY the translated content in the EXACT same format as input.
If source and target language are the same, return the input unchanged.`

// Translator translates upstream content between languages while preserving
// its structure.
type Translator struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewTranslator creates the translator handler.
func NewTranslator(gateway Gateway, logger *zap.Logger) *Translator {
	return &Translator{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "translator")),
	}
}

// Execute implements workflow.Handler.
func (a *Translator) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	sourceLang := settingString(req.Settings, "sourceLanguage", "auto")
	targetLang := settingString(req.Settings, "targetLanguage", "en")

	content, source := firstNonEmpty(req,
		workflow.KeyInputContent,
		workflow.KeyTransformedContent,
		workflow.KeyFinalAnswer,
		workflow.KeyUploadedContent,
	)
	if content == "" {
		return &workflow.Result{
			Action:  "translate",
			Content: "No content available to translate.",
			Err:     "no input content",
		}, nil
	}

	if sourceLang == targetLang && sourceLang != "auto" {
		return &workflow.Result{
			Action:  "translate",
			Content: content,
			Metadata: map[string]any{
				"source_language": sourceLang,
				"target_language": targetLang,
				"identity":        true,
			},
			ContextUpdates: map[string]any{
				workflow.KeyTranslatedContent: content,
				workflow.KeyInputContent:      content,
			},
		}, nil
	}

	system := fmt.Sprintf(translatorPrompt, languageName(sourceLang), languageName(targetLang))

	// Token budget scales with content size; translations are roughly
	// length-preserving.
	maxTokens := len(content)/2 + 500
	if maxTokens > 4000 {
		maxTokens = 4000
	}

	translated, err := chat(ctx, a.gateway, req.ModelClass, system, content, 0.1, maxTokens)
	if err != nil {
		return nil, err
	}
	translated = strings.TrimSpace(translated)

	return &workflow.Result{
		Action:  "translate",
		Content: translated,
		Metadata: map[string]any{
			"source_language": sourceLang,
			"target_language": targetLang,
			"content_source":  source,
		},
		ContextUpdates: map[string]any{
			workflow.KeyTranslatedContent: translated,
			workflow.KeyInputContent:      translated,
		},
	}, nil
}

// languageName resolves a code to its display name, passing unknown codes
// through untouched.
func languageName(code string) string {
	if name, ok := supportedLanguages[code]; ok {
		return name
	}
	return code
}
