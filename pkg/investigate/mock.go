package investigate

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/BlearKK/deepdriver/pkg/events"
)

// MockInvestigator produces deterministic canned results: the same
// (target, item) pair always yields the same classification. Used in test
// mode so full investigations run without burning API credits.
type MockInvestigator struct {
	// Delay simulates lookup latency. Zero means return immediately.
	Delay time.Duration
}

var _ Investigator = &MockInvestigator{}

func NewMockInvestigator(delay time.Duration) *MockInvestigator {
	return &MockInvestigator{Delay: delay}
}

// Weighted toward NoEvidenceFound, which dominates real screening runs.
var mockWeights = []struct {
	rel    events.RelationshipType
	weight float64
}{
	{events.RelationshipDirect, 0.10},
	{events.RelationshipIndirect, 0.15},
	{events.RelationshipSignificantMention, 0.15},
	{events.RelationshipNoEvidenceFound, 0.60},
}

var mockSummaries = map[events.RelationshipType][]string{
	events.RelationshipDirect: {
		"Clear evidence of a direct cooperation agreement, including joint research projects and co-authored publications.",
		"Multiple joint projects and a technology transfer agreement indicate a close partnership between the institutions.",
		"A signed memorandum of understanding covers personnel exchange, resource sharing and joint research.",
	},
	events.RelationshipIndirect: {
		"An indirect link exists through a third institution; both parties belong to the same research consortium.",
		"The institutions share a common partner organization but no direct cooperation was found.",
		"Both institutions participate in the same international research program without direct interaction.",
	},
	events.RelationshipSignificantMention: {
		"The organization is cited repeatedly in the target institution's publications, but no formal tie was found.",
		"Researchers at the target institution frequently reference this organization's work without evidence of cooperation.",
		"Strategy documents of the target institution name this organization as a key reference point.",
	},
	events.RelationshipNoEvidenceFound: {
		"No cooperation, connection or significant mention between the institutions was found.",
		"Public sources contain no evidence linking the two institutions.",
		"A comprehensive search produced no information suggesting a relationship.",
	},
}

func (m *MockInvestigator) Investigate(ctx context.Context, target, item string) (events.WorkResult, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return events.WorkResult{}, ctx.Err()
		}
	}

	rng := rand.New(rand.NewSource(seed(target, item)))

	rel := events.RelationshipNoEvidenceFound
	roll := rng.Float64()
	acc := 0.0
	for _, w := range mockWeights {
		acc += w.weight
		if roll < acc {
			rel = w.rel
			break
		}
	}

	summaries := mockSummaries[rel]
	res := events.WorkResult{
		ItemID:           item,
		Target:           target,
		RelationshipType: rel,
		Summary:          summaries[rng.Intn(len(summaries))],
	}
	if rel == events.RelationshipIndirect {
		res.Intermediaries = []string{"Shared Research Consortium"}
	}
	return res, nil
}

func seed(target, item string) int64 {
	h := fnv.New64a()
	h.Write([]byte(target))
	h.Write([]byte{':'})
	h.Write([]byte(item))
	return int64(h.Sum64())
}
