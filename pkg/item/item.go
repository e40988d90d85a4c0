// Package item defines the canonical Hacker News item record and the lenient
// validation that turns raw API responses into it.
package item

// Kind is the item type reported by the API.
type Kind string

const (
	// KindJob is a job posting.
	KindJob Kind = "job"

	// KindStory is a story submission.
	KindStory Kind = "story"

	// KindComment is a comment on a story or another comment.
	KindComment Kind = "comment"

	// KindPoll is a poll; its options are listed in Parts.
	KindPoll Kind = "poll"

	// KindPollOption is a single poll option; Poll points at the owning poll.
	KindPollOption Kind = "pollopt"
)

// ParseKind maps a wire value to a Kind.
// Unknown values report ok=false and must be treated as absent.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindJob, KindStory, KindComment, KindPoll, KindPollOption:
		return k, true
	default:
		return "", false
	}
}

// Item is a validated item. Every field except ID is optional; a nil pointer
// or nil slice means the field was absent (or malformed) in the response.
//
// JSON tags use the API's wire names so snapshots stay compatible with the
// upstream format.
type Item struct {
	ID              int64   `json:"id"`
	Kind            Kind    `json:"type,omitempty"`
	Deleted         *bool   `json:"deleted,omitempty"`
	Dead            *bool   `json:"dead,omitempty"`
	Author          *string `json:"by,omitempty"`
	CreatedAt       *int64  `json:"time,omitempty"`
	Text            *string `json:"text,omitempty"`
	Title           *string `json:"title,omitempty"`
	URL             *string `json:"url,omitempty"`
	Score           *int64  `json:"score,omitempty"`
	DescendantCount *int64  `json:"descendants,omitempty"`
	Parent          *int64  `json:"parent,omitempty"`
	Poll            *int64  `json:"poll,omitempty"`
	Children        []int64 `json:"kids,omitempty"`
	Parts           []int64 `json:"parts,omitempty"`
}

// Tombstone returns the placeholder stored for an id the API reports as
// nonexistent. It carries only the id.
func Tombstone(id int64) Item {
	return Item{ID: id}
}

// IsTombstone reports whether the item carries nothing but its id.
func (it Item) IsTombstone() bool {
	return it.Kind == "" &&
		it.Deleted == nil && it.Dead == nil &&
		it.Author == nil && it.CreatedAt == nil &&
		it.Text == nil && it.Title == nil && it.URL == nil &&
		it.Score == nil && it.DescendantCount == nil &&
		it.Parent == nil && it.Poll == nil &&
		it.Children == nil && it.Parts == nil
}

// Refs returns the ids this item points down to: children first, then poll
// parts, in display order.
func (it Item) Refs() []int64 {
	if len(it.Children) == 0 && len(it.Parts) == 0 {
		return nil
	}
	refs := make([]int64, 0, len(it.Children)+len(it.Parts))
	refs = append(refs, it.Children...)
	refs = append(refs, it.Parts...)
	return refs
}
