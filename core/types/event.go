package types

// Event is the wire form of a protocol event: a type tag plus flat string
// attributes, consumed by external indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
