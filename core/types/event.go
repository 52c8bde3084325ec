package types

// Event is a typed record emitted while applying a state transition. The
// attribute map carries string-rendered payload fields for downstream
// consumers such as indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
