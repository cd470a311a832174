package agent

import (
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/workflow"
)

// RegisterAll installs every built-in handler into the registry. retriever and
// images may be nil; the corresponding agents then degrade gracefully.
func RegisterAll(registry *workflow.Registry, gateway Gateway, retriever SearchBackend, images ImageBackend, logger *zap.Logger) {
	registry.Register(workflow.NodeSupervisor, NewSupervisor(gateway, retriever, logger), llm.ModelSmall)
	registry.Register(workflow.NodeOrchestrator, NewOrchestrator(gateway, logger), llm.ModelSmall)
	registry.Register(workflow.NodeSemanticSearch, NewSemanticSearch(retriever, logger), llm.ModelSmall)
	registry.Register(workflow.NodeSampler, NewSampler(gateway, logger), llm.ModelSmall)
	registry.Register(workflow.NodeSynthesis, NewSynthesis(gateway, logger), llm.ModelLarge)
	registry.Register(workflow.NodeSummarization, NewSummarization(gateway, logger), llm.ModelSmall)
	registry.Register(workflow.NodeTransformer, NewTransformer(gateway, logger), llm.ModelLarge)
	registry.Register(workflow.NodeTranslator, NewTranslator(gateway, logger), llm.ModelSmall)
	registry.Register(workflow.NodeFormatting, NewFormatting(gateway, logger), llm.ModelLarge)
	registry.Register(workflow.NodeCode, NewCode(gateway, logger), llm.ModelLarge)
	registry.Register(workflow.NodeImageGenerator, NewImageGenerator(images, logger), llm.ModelSmall)
}
