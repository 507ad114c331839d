package domain

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a chat session transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CitationLocation points at the source document backing a citation.
type CitationLocation struct {
	Type string `json:"type,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// Citation is a knowledge-base reference returned alongside an agent answer.
type Citation struct {
	Content  string           `json:"content"`
	Location CitationLocation `json:"location"`
	Metadata map[string]any   `json:"metadata"`
}

// AgentReply is the collected result of one agent invocation.
type AgentReply struct {
	Text      string
	Citations []Citation
}

// ChatReply is returned to chat clients.
type ChatReply struct {
	Response     string     `json:"response"`
	SessionID    string     `json:"session_id"`
	Citations    []Citation `json:"citations"`
	HasKBResults bool       `json:"has_kb_results"`
}

// KnowledgeAnswer is the result of a direct knowledge-base query.
type KnowledgeAnswer struct {
	Response  string     `json:"response"`
	Citations []Citation `json:"citations"`
}
