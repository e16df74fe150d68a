// Package entrytype defines the cache entry content taxonomy shared by the
// token estimator, entry store, scorer, and compressor so none of them need
// to import each other just to agree on the set of entry kinds.
package entrytype

// Type classifies the content of a cache Entry.
type Type string

const (
	SystemPrompt     Type = "system_prompt"
	FileRead         Type = "file_read"
	FileWrite        Type = "file_write"
	ToolResult       Type = "tool_result"
	BashOutput       Type = "bash_output"
	UserMessage      Type = "user_message"
	AssistantMessage Type = "assistant_message"
	Other            Type = "other"
)

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case SystemPrompt, FileRead, FileWrite, ToolResult, BashOutput, UserMessage, AssistantMessage, Other:
		return true
	default:
		return false
	}
}

// Tier is the quality-of-service class governing compression and decay.
type Tier string

const (
	Hot      Tier = "hot"
	Warm     Tier = "warm"
	Cold     Tier = "cold"
	Archived Tier = "archived"
)
