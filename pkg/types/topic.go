package types

import "time"

// ChangeKind is the kind of mutation applied to a collection.
type ChangeKind string

const (
	Replaced ChangeKind = "replaced"
	Added    ChangeKind = "added"
	Updated  ChangeKind = "updated"
	Removed  ChangeKind = "removed"
	// Refresh is used by views that want a plain redraw without a state change.
	Refresh ChangeKind = "refresh"
)

// Topic names an event channel. State topics are (collection, kind) pairs from a
// closed set; custom topics carry a free-form name for cross-component signals.
type Topic struct {
	Collection Collection
	Kind       ChangeKind
	name       string
}

// NewTopic returns the state topic for a collection and change kind.
func NewTopic(c Collection, kind ChangeKind) Topic {
	return Topic{Collection: c, Kind: kind}
}

// CustomTopic returns a topic that is not tied to a collection.
func CustomTopic(name string) Topic {
	return Topic{name: name}
}

// String returns "<collection>.<kind>" for state topics and the name otherwise.
func (t Topic) String() string {
	if t.name != "" {
		return t.name
	}
	return string(t.Collection) + "." + string(t.Kind)
}

// IsCustom reports whether t was built with CustomTopic.
func (t Topic) IsCustom() bool {
	return t.name != ""
}

// StateKinds are the change kinds emitted by the state store.
func StateKinds() []ChangeKind {
	return []ChangeKind{Replaced, Added, Updated, Removed}
}

// AllTopics enumerates every state topic.
func AllTopics() []Topic {
	topics := make([]Topic, 0, len(AllCollections())*len(StateKinds()))
	for _, c := range AllCollections() {
		for _, k := range StateKinds() {
			topics = append(topics, NewTopic(c, k))
		}
	}
	return topics
}

// ItemEvent is published when a single record is added, updated or removed.
type ItemEvent struct {
	Collection Collection `json:"collection"`
	Item       Record     `json:"item"`
	Index      int        `json:"index"`
	AllData    []Record   `json:"allData"`
	At         time.Time  `json:"at"`
}

// ListEvent is published when a collection is replaced wholesale.
type ListEvent struct {
	Collection Collection `json:"collection"`
	AllData    []Record   `json:"allData"`
	At         time.Time  `json:"at"`
}
