package investigate

import (
	"context"
	"testing"

	"github.com/BlearKK/deepdriver/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockInvestigatorDeterministic(t *testing.T) {
	m := NewMockInvestigator(0)

	a, err := m.Investigate(context.Background(), "Target University", "Org A")
	require.NoError(t, err)
	b, err := m.Investigate(context.Background(), "Target University", "Org A")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same pair must yield the same result")
	assert.Equal(t, "Org A", a.ItemID)
	assert.True(t, a.RelationshipType.Valid())
	assert.NotEmpty(t, a.Summary)
}

func TestMockInvestigatorVariesByItem(t *testing.T) {
	m := NewMockInvestigator(0)

	seen := map[events.RelationshipType]bool{}
	for _, item := range []string{"Org A", "Org B", "Org C", "Org D", "Org E", "Org F", "Org G", "Org H", "Org I", "Org J"} {
		res, err := m.Investigate(context.Background(), "Target", item)
		require.NoError(t, err)
		seen[res.RelationshipType] = true
	}
	// With ten distinct items the weighted pick should not collapse to one type.
	assert.Greater(t, len(seen), 1)
}

func TestMockInvestigatorHonorsCancel(t *testing.T) {
	m := NewMockInvestigator(1e9) // 1s delay

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Investigate(ctx, "Target", "Org A")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFinding(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantType events.RelationshipType
		wantSum  string
	}{
		{
			name:     "clean array",
			content:  `[{"relationship_type":"Direct","summary":"joint lab"}]`,
			wantType: events.RelationshipDirect,
			wantSum:  "joint lab",
		},
		{
			name:     "array wrapped in prose",
			content:  "Here is my analysis:\n[{\"relationship_type\":\"Indirect\",\"summary\":\"via consortium\"}]\nHope that helps.",
			wantType: events.RelationshipIndirect,
			wantSum:  "via consortium",
		},
		{
			name:     "single object",
			content:  `{"relationship_type":"No Evidence Found","summary":"nothing"}`,
			wantType: events.RelationshipNoEvidenceFound,
			wantSum:  "nothing",
		},
		{
			name:     "legacy finding_summary field",
			content:  `[{"relationship_type":"Direct","finding_summary":"old shape"}]`,
			wantType: events.RelationshipDirect,
			wantSum:  "old shape",
		},
		{
			name:     "unparseable degrades to Unknown",
			content:  "I could not complete the analysis.",
			wantType: events.RelationshipUnknown,
			wantSum:  "Failed to parse lookup response",
		},
		{
			name:     "invalid type degrades to Unknown",
			content:  `[{"relationship_type":"Friendly","summary":"?"}]`,
			wantType: events.RelationshipUnknown,
			wantSum:  "?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseFinding(tt.content, "Target", "Org A")
			assert.Equal(t, "Org A", res.ItemID)
			assert.Equal(t, "Target", res.Target)
			assert.Equal(t, tt.wantType, res.RelationshipType)
			assert.Equal(t, tt.wantSum, res.Summary)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Org A", sanitize(`  Org \"A\" `))
}
