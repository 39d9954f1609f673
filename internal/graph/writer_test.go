package graph

import (
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"

	"github.com/radarlab/radar/internal/ceg"
)

// the writer doubles as the causal engine's edge store
var _ ceg.EdgeStore = (*Writer)(nil)

func TestRecordAccessors(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"kind", "total", "retro", "missing_nil"},
		Values: []interface{}{"confirmed", 0.69, true, nil},
	}

	assert.Equal(t, "confirmed", stringValue(rec, "kind"))
	assert.InDelta(t, 0.69, floatValue(rec, "total"), 1e-9)
	assert.True(t, boolValue(rec, "retro"))

	assert.Empty(t, stringValue(rec, "missing_nil"))
	assert.Zero(t, floatValue(rec, "absent"))
	assert.False(t, boolValue(rec, "absent"))
}

func TestConstraintsCoverEveryLabel(t *testing.T) {
	labels := []string{"Event", "News", "Issuer", "Instrument", "Market", "Sector", "Country"}
	for _, label := range labels {
		found := false
		for _, stmt := range constraints {
			if strings.Contains(stmt, ":"+label+")") {
				found = true
				break
			}
		}
		assert.True(t, found, "label %s has a uniqueness constraint", label)
	}
}
