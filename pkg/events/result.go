package events

// RelationshipType classifies the relationship found between the target
// institution and one reference-list entry. String values match the wire
// format the lookup model is prompted to return.
type RelationshipType string

const (
	RelationshipDirect             RelationshipType = "Direct"
	RelationshipIndirect           RelationshipType = "Indirect"
	RelationshipSignificantMention RelationshipType = "Significant Mention"
	RelationshipNoEvidenceFound    RelationshipType = "No Evidence Found"
	RelationshipUnknown            RelationshipType = "Unknown"
)

// Valid reports whether t is one of the known relationship types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipDirect, RelationshipIndirect, RelationshipSignificantMention,
		RelationshipNoEvidenceFound, RelationshipUnknown:
		return true
	}
	return false
}

// WorkResult is the terminal result for one (target, item) pair. A session
// produces exactly one WorkResult per item id; once recorded it is immutable.
type WorkResult struct {
	ItemID           string           `json:"item_id"`
	Target           string           `json:"target"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Summary          string           `json:"summary"`
	Intermediaries   []string         `json:"intermediaries,omitempty"`
	Sources          []string         `json:"sources,omitempty"`
}
