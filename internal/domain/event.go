package domain

// EventKind identifies the type of an analytics event.
type EventKind string

const (
	// EventKindFeature is emitted for every flag evaluation.
	EventKindFeature EventKind = "feature"
)

// Event is an analytics record produced by evaluation. Events are values and
// are never mutated after they have been recorded.
type Event struct {
	Kind         EventKind `json:"kind"`
	Key          string    `json:"key"`
	User         User      `json:"user"`
	Value        any       `json:"value"`
	Default      any       `json:"default"`
	Version      *int      `json:"version"`
	PrereqOf     string    `json:"prereqOf,omitempty"`
	CreationDate int64     `json:"creationDate"`
}

// NewFeatureEvent builds a feature event. A nil version is serialized as null.
func NewFeatureEvent(key string, user User, value, defaultValue any, version *int) Event {
	return Event{
		Kind:    EventKindFeature,
		Key:     key,
		User:    user,
		Value:   value,
		Default: defaultValue,
		Version: version,
	}
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int {
	return &v
}
