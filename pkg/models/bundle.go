package models

// ItemMetadata is the normalized view of one library item. The item store
// builds it exactly once when the raw entry is decoded; downstream code never
// re-reads alternate representations.
type ItemMetadata struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	ItemType string   `json:"item_type"`
	Creators string   `json:"creators,omitempty"`
	Date     string   `json:"date,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Attachment describes a child record of an item (a PDF, a note, a link).
type Attachment struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	ContentType string `json:"content_type,omitempty"`
	ItemType    string `json:"item_type"`
	Note        string `json:"note,omitempty"`
}

// Annotation is a reader-made highlight or comment on an item.
type Annotation struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Comment string `json:"comment,omitempty"`
	Page    string `json:"page,omitempty"`
}

// Bundle assembles everything the analysis step needs for one item. Metadata
// is always present; the other components are optional and carry presence
// flags so a fetch failure for one of them is distinguishable from "empty".
type Bundle struct {
	Key      string
	Metadata ItemMetadata

	Children    []Attachment
	HasChildren bool

	FullText    string
	HasFullText bool

	Annotations    []Annotation
	HasAnnotations bool
}

// Title returns the item title, falling back to the key for untitled items.
func (b *Bundle) Title() string {
	if b.Metadata.Title != "" {
		return b.Metadata.Title
	}

	return b.Key
}
