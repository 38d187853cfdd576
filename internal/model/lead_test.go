package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestMergeSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing []string
		incoming []string
		want     []string
	}{
		{"union", []string{"A", "B"}, []string{"B", "C"}, []string{"A", "B", "C"}},
		{"empty existing", nil, []string{"C", "C"}, []string{"C"}},
		{"empty incoming", []string{"A"}, nil, []string{"A"}},
		{"both empty", nil, nil, []string{}},
		{"blanks dropped", []string{"A", ""}, []string{"", "B"}, []string{"A", "B"}},
		{"duplicates in existing", []string{"A", "A"}, []string{"A"}, []string{"A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MergeSignals(tt.existing, tt.incoming))
		})
	}
}

func TestMergeSignalsOrderIndependentSet(t *testing.T) {
	t.Parallel()

	a := MergeSignals([]string{"A", "B"}, []string{"B", "C"})
	b := MergeSignals([]string{"B", "C"}, []string{"A", "B"})
	assert.ElementsMatch(t, a, b)
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 55, ClampScore(55))
	assert.Equal(t, 100, ClampScore(140))
}

func TestRecordCreatedTriggerType(t *testing.T) {
	t.Parallel()

	tt, ok := RecordCreated{Event: EventLeadCreated}.TriggerType()
	assert.True(t, ok)
	assert.Equal(t, TriggerLeadCreated, tt)

	tt, ok = RecordCreated{Event: EventContactAdded}.TriggerType()
	assert.True(t, ok)
	assert.Equal(t, TriggerContactAdded, tt)

	_, ok = RecordCreated{Event: "deal/won"}.TriggerType()
	assert.False(t, ok)
}
