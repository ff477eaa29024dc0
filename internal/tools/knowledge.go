package tools

import (
	"context"

	"github.com/vitacare/concierge/internal/knowledge"
)

// KnowledgeTool lets the model pull clinic facts on demand, beyond the
// chunks already injected into the system prompt.
type KnowledgeTool struct {
	base knowledge.Searcher
}

func NewKnowledgeTool(base knowledge.Searcher) *KnowledgeTool {
	return &KnowledgeTool{base: base}
}

func (t *KnowledgeTool) Name() string { return "get_knowledge" }

func (t *KnowledgeTool) Description() string {
	return "Search the clinic knowledge base: address, insurance, preparation instructions, policies."
}

func (t *KnowledgeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look up.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *KnowledgeTool) Execute(ctx context.Context, turn *Turn, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}

	chunks, err := t.base.Search(ctx, query, 5)
	if err != nil {
		return ErrorResult("knowledge base unavailable").WithError(err)
	}
	if len(chunks) == 0 {
		return NewResult(`{"found":false}`)
	}
	return jsonResult(map[string]interface{}{"found": true, "chunks": chunks})
}
