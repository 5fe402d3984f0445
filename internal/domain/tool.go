package domain

import "encoding/json"

// Operation is a candidate tool returned by capability discovery.
type Operation struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsInfo reports how a handler's operation set was chosen.
type ToolsInfo struct {
	SemanticSearchUsed bool     `json:"semantic_search_used"`
	SearchQuery        string   `json:"search_query,omitempty"`
	ToolsFound         []string `json:"tools_found,omitempty"`
	ToolsCount         int      `json:"tools_count"`
	TotalTools         int      `json:"total_tools,omitempty"`
}

// IsZero reports whether no discovery happened.
func (t ToolsInfo) IsZero() bool {
	return !t.SemanticSearchUsed && t.SearchQuery == "" && len(t.ToolsFound) == 0 && t.ToolsCount == 0 && t.TotalTools == 0
}
