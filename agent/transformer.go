package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/workflow"
)

const transformerPromptTemplate = `You are an expert Data Analyst and Transformer Agent. Your task is to deeply analyze ANY type of document and extract ALL meaningful structured data into %s format.

STEP 1 - DOCUMENT TYPE DETECTION:
First, identify what type of document this is (invoice, contract, resume, report, form, academic paper, meeting notes, financial statement, list, technical documentation, or other) and pick the structure that fits.

STEP 2 - INTELLIGENT EXTRACTION:
1. Thoroughly read and understand the ENTIRE document
2. Identify the document's purpose and structure
3. Find ALL entities: people, organizations, dates, numbers, amounts, locations
4. Extract ALL structured data: tables, lists, key-value pairs, metadata
5. Capture relationships between entities
6. Include context that gives meaning to the data

%s

EXTRACTION REQUIREMENTS (%s depth):
%s

CSV OUTPUT REQUIREMENTS:
- First row MUST be descriptive column headers
- Each row represents one record/item/entry
- Use proper CSV escaping (quotes around text with commas)
- If document has tables: each table row becomes a CSV row
- If document has lists: each list item becomes a row
- Preserve hierarchical relationships (use Category/Section columns)

%s

OUTPUT FORMAT: %s
Output ONLY the structured data. No explanations, no markdown code blocks.`

const (
	transformerDepthBasic = `- Extract main entities and primary data points
- Focus on clearly visible/stated information
- Create 5-10 columns of essential data
- One row per main item/entry`

	transformerDepthDetailed = `- Extract main and secondary entities
- Include context, relationships, and metadata
- Create 10-20 columns covering all major aspects
- Capture dates, amounts, names, descriptions
- Extract data from tables and lists
- Include category/section information`

	transformerDepthComprehensive = `- Extract ABSOLUTELY EVERYTHING from the document
- Create as many columns as needed
- EVERY table becomes rows with all columns preserved
- EVERY list item becomes a row with full details
- EVERY form field is captured
- Include IDs, names, descriptions, categories, dates, amounts, quantities, statuses, notes
- Preserve hierarchy using Category/Section/Subsection columns
- Nothing should be omitted - if it's in the document, extract it`
)

// transformerContentCap bounds the document slice sent to the model.
const transformerContentCap = 25000

// Transformer performs deep document analysis and converts content between
// formats, primarily into CSV for spreadsheet outputs.
type Transformer struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewTransformer creates the transformer handler.
func NewTransformer(gateway Gateway, logger *zap.Logger) *Transformer {
	return &Transformer{
		gateway: gateway,
		logger:  logger.With(zap.String("agent", "transformer")),
	}
}

// Execute implements workflow.Handler.
func (a *Transformer) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	fromFormat := settingString(req.Settings, "fromFormat", "text")
	toFormat := settingString(req.Settings, "toFormat", "csv")
	depth := settingString(req.Settings, "extractionDepth", "comprehensive")
	customColumns := settingString(req.Settings, "customColumns", "")

	content, source := firstNonEmpty(req,
		workflow.KeyInputContent,
		workflow.KeyUploadedContent,
		workflow.KeyFinalAnswer,
	)
	if content == "" {
		return &workflow.Result{
			Action:  "transform",
			Content: "No content available to transform.",
			Err:     "no input content",
		}, nil
	}

	a.logger.Debug("transforming content",
		zap.String("source", source),
		zap.Int("length", len(content)),
		zap.String("to_format", toFormat),
	)

	columnsInstruction := `COLUMNS: Determine the optimal column structure based on the document content.
Include all relevant data dimensions. Aim for comprehensive coverage.`
	if strings.TrimSpace(customColumns) != "" {
		var columns []string
		for _, c := range strings.Split(customColumns, ",") {
			if c = strings.TrimSpace(c); c != "" {
				columns = append(columns, c)
			}
		}
		columnsInstruction = fmt.Sprintf(`REQUIRED COLUMNS (user specified):
The output MUST include these columns: %s
You may add additional relevant columns, but these must be present.`, strings.Join(columns, ", "))
	}

	depthInstructions := transformerDepthComprehensive
	switch depth {
	case "basic":
		depthInstructions = transformerDepthBasic
	case "detailed":
		depthInstructions = transformerDepthDetailed
	}

	guidance := ""
	if plan := contextString(req.Context, workflow.KeySupervisorGuidance); plan != "" {
		guidance = "ADDITIONAL GUIDANCE:\n" + plan
	}

	system := fmt.Sprintf(transformerPromptTemplate,
		strings.ToUpper(toFormat), columnsInstruction, depth, depthInstructions, guidance, strings.ToUpper(toFormat))

	if len(content) > transformerContentCap {
		content = content[:transformerContentCap] + "\n\n[Document truncated for processing...]"
	}

	user := fmt.Sprintf(`Analyze this %s document and extract ALL structured data into %s format:

=== DOCUMENT START ===
%s
=== DOCUMENT END ===

Perform deep analysis and create a comprehensive %s output with all extractable data.`,
		strings.ToUpper(fromFormat), strings.ToUpper(toFormat), content, strings.ToUpper(toFormat))

	maxTokens := 2000
	if depth == "comprehensive" {
		maxTokens = 4000
	}

	// Deep extraction wants the capable tier unless explicitly overridden.
	class := req.ModelClass
	if settingBool(req.Settings, "useAdvancedModel", true) {
		class = llm.ModelLarge
	}

	transformed, err := chat(ctx, a.gateway, class, system, user, 0.1, maxTokens)
	if err != nil {
		return nil, err
	}
	transformed = stripCodeFence(transformed)

	return &workflow.Result{
		Action:  "transform",
		Content: transformed,
		Metadata: map[string]any{
			"model":            a.gateway.Model(class),
			"from_format":      fromFormat,
			"to_format":        toFormat,
			"extraction_depth": depth,
			"content_source":   source,
			"original_length":  len(content),
			"output_length":    len(transformed),
		},
		ContextUpdates: map[string]any{
			workflow.KeyTransformedContent: transformed,
			workflow.KeyInputContent:       transformed,
			workflow.KeyFinalAnswer:        transformed,
		},
	}, nil
}
