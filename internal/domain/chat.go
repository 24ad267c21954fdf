package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the session transcript. The same shape is
// returned to the client, so it carries JSON tags.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
