package domain

// ToolSource identifies the backing data source for a tool.
type ToolSource string

const (
	// SourceSQL tools read from a relational data provider.
	SourceSQL ToolSource = "sql"
	// SourceRAG tools read from a document retrieval provider.
	SourceRAG ToolSource = "rag"
	// SourceAPI tools call an external API.
	SourceAPI ToolSource = "api"
	// SourceModel tools answer directly from the language model.
	SourceModel ToolSource = "model"
)

// ToolConfig describes one callable capability of an agent.
type ToolConfig struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Source      ToolSource `json:"source"`
	// EntityKind is the provider record kind this tool reads, if any.
	EntityKind string   `json:"entity_kind,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// AgentConfig is a static registry entry for one domain assistant.
// Entries are read-only at runtime; the registry is loaded once at
// startup and never mutated.
type AgentConfig struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Endpoint    string `json:"endpoint"`
	IsActive    bool   `json:"is_active"`
	SortOrder   int    `json:"sort_order"`
	// Domains are the intent types this agent serves.
	Domains []string `json:"domains,omitempty"`
	// Triggers is the agent's trigger vocabulary for fast classification.
	Triggers []string `json:"triggers,omitempty"`
	// Welcome is the spoken greeting when a voice session starts.
	Welcome string       `json:"welcome,omitempty"`
	Tools   []ToolConfig `json:"tools,omitempty"`
}
