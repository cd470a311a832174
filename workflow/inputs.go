package workflow

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Type-tag prefixes carried by base64-encoded binary uploads.
const (
	prefixPDFBase64  = "__PDF_BASE64__"
	prefixDocxBase64 = "__DOCX_BASE64__"
)

// Default instructions used when an upload node has no explicit instruction.
const (
	uploadInstructionExtract = "Extract all structured data from the uploaded document."
	uploadInstructionSummary = "Summarize the key points of the uploaded document."
)

// uploadDelimiter separates multiple extracted files inside uploaded_content.
const uploadDelimiter = "\n\n--- %s ---\n\n"

// Extractor turns raw upload bytes into text for one file extension.
type Extractor interface {
	Supported(ext string) bool
	Extract(ext string, data []byte, name string) (string, error)
}

// processPromptNode copies the node's prompt text into user_message. The last
// prompt node in topological order wins.
func (e *Executor) processPromptNode(node *Node, store *ContextStore) Step {
	text := strings.TrimSpace(node.PromptText)
	if text != "" {
		store.Set(KeyUserMessage, text)
	}
	return Step{
		Agent:   string(node.Type),
		Model:   "none",
		Action:  "input",
		Content: store.GetString(KeyUserMessage),
	}
}

// processUploadNode decodes the node's files, extracts their text, and stores
// the concatenation in uploaded_content. Extraction failures leave the content
// empty and surface a recoverable note in the step metadata.
func (e *Executor) processUploadNode(node *Node, w *Workflow, store *ContextStore) Step {
	var parts []string
	var notes []string

	for _, file := range node.UploadedFiles {
		text, err := e.extractUpload(file)
		if err != nil {
			e.logger.Warn("upload extraction failed",
				zap.String("file", file.Name),
				zap.Error(err),
			)
			notes = append(notes, fmt.Sprintf("%s: %v", file.Name, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(uploadDelimiter, file.Name)+text)
	}

	content := strings.Join(parts, "")
	store.Set(KeyUploadedContent, content)
	if content != "" {
		store.Set(KeyInputContent, content)
	}

	// An explicit instruction (per node, or the top-level message) overrides
	// the derived default.
	instruction := strings.TrimSpace(node.UploadInstruction)
	if instruction == "" && strings.TrimSpace(store.GetString(KeyUserMessage)) == "" {
		if w.HasNodeType(NodeTransformer, NodeSpreadsheet) {
			instruction = uploadInstructionExtract
		} else {
			instruction = uploadInstructionSummary
		}
	}
	if instruction != "" {
		store.Set(KeyUserMessage, instruction)
	}

	step := Step{
		Agent:   string(node.Type),
		Model:   "none",
		Action:  "input",
		Content: fmt.Sprintf("Processed %d uploaded file(s)", len(parts)),
	}
	if len(notes) > 0 {
		step.Metadata = map[string]any{"extraction_errors": notes}
	}
	return step
}

// extractUpload decodes one uploaded file and runs format-specific extraction.
func (e *Executor) extractUpload(file UploadedFile) (string, error) {
	content := file.Content
	ext := strings.ToLower(filepath.Ext(file.Name))

	switch {
	case strings.HasPrefix(content, prefixPDFBase64):
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, prefixPDFBase64))
		if err != nil {
			return "", fmt.Errorf("decode PDF payload: %w", err)
		}
		return e.extractBinary(".pdf", data, file.Name)

	case strings.HasPrefix(content, prefixDocxBase64):
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, prefixDocxBase64))
		if err != nil {
			return "", fmt.Errorf("decode DOCX payload: %w", err)
		}
		return e.extractBinary(".docx", data, file.Name)

	default:
		// Text formats pass through raw.
		if ext == "" || ext == ".txt" || ext == ".md" || ext == ".csv" {
			return content, nil
		}
		if e.extractor != nil && e.extractor.Supported(ext) {
			return e.extractor.Extract(ext, []byte(content), file.Name)
		}
		return content, nil
	}
}

func (e *Executor) extractBinary(ext string, data []byte, name string) (string, error) {
	if e.extractor == nil || !e.extractor.Supported(ext) {
		return "", fmt.Errorf("no %s extractor available", strings.TrimPrefix(ext, "."))
	}
	return e.extractor.Extract(ext, data, name)
}
