package models

// Source describes how a workflow's item set is derived: either every item
// of a named collection, or the N most recently added library items.
type Source struct {
	Type       SourceType `json:"type"       validate:"required,oneof=collection recent"`
	Identifier string     `json:"identifier" validate:"required"`
}

// CollectionSource names a collection by key or name.
func CollectionSource(identifier string) Source {
	return Source{Type: SourceTypeCollection, Identifier: identifier}
}

// RecentSource selects the most recently added items; the identifier is the
// decimal count.
func RecentSource(count string) Source {
	return Source{Type: SourceTypeRecent, Identifier: count}
}
