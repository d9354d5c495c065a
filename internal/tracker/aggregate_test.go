package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serebryakov7/can-diag/common"
	"github.com/serebryakov7/can-diag/internal/canid"
)

func neoKey(id uint8) canid.DeviceKey {
	return canid.DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: id}
}

func neoSpecs() []common.DeviceSpec {
	return []common.DeviceSpec{
		{Key: neoKey(22), Label: "NEO 22", Group: "neos"},
		{Key: neoKey(25), Label: "NEO 25", Group: "neos"},
		{Key: neoKey(10), Label: "NEO 10", Group: "neos"},
	}
}

func TestGroupsByMembership(t *testing.T) {
	specs := []common.DeviceSpec{
		{Key: neoKey(22), Label: "NEO 22", Group: "neos"},
		{Key: neoKey(1), Label: "PDH", Group: "power"},
		{Key: neoKey(25), Label: "NEO 25", Group: "neos"},
		{Key: neoKey(30), Label: "Spare"},
	}
	agg := NewAggregator(specs, nil, nil, time.Second)

	groups := agg.Groups()
	require.Len(t, groups, 2)
	// Порядок первого появления в описаниях.
	assert.Equal(t, "neos", groups[0].Name)
	assert.Equal(t, []canid.DeviceKey{neoKey(22), neoKey(25)}, groups[0].Keys)
	assert.Equal(t, "power", groups[1].Name)
	assert.Equal(t, []canid.DeviceKey{neoKey(1)}, groups[1].Keys)
}

func TestExplicitGroups(t *testing.T) {
	refs := map[string][]common.GroupRef{
		"drive": {{Label: "NEO 22"}, {Label: "NEO 25"}},
		"aux":   {{ID: 10, ByID: true}, {Label: "нет такого"}},
	}
	agg := NewAggregator(neoSpecs(), refs, nil, time.Second)

	groups := agg.Groups()
	require.Len(t, groups, 2)
	// Явные группы отсортированы по имени.
	assert.Equal(t, "aux", groups[0].Name)
	assert.Equal(t, []canid.DeviceKey{neoKey(10)}, groups[0].Keys)
	assert.Equal(t, "drive", groups[1].Name)
	assert.Equal(t, []canid.DeviceKey{neoKey(22), neoKey(25)}, groups[1].Keys)
}

func TestLegacyIDsDefaulted(t *testing.T) {
	agg := NewAggregator(neoSpecs(), nil, nil, time.Second)
	// Отсортированное множество номеров из описаний.
	assert.Equal(t, []uint8{10, 22, 25}, agg.LegacyIDs())

	agg = NewAggregator(neoSpecs(), nil, []uint8{25, 22}, time.Second)
	assert.Equal(t, []uint8{25, 22}, agg.LegacyIDs())
}

func TestGroupRollup(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(neoSpecs(), nil, nil, time.Second)
	g := agg.Groups()[0]
	require.Len(t, g.Keys, 3)

	snap := Snapshot{
		neoKey(22): {LastSeen: base.Add(-200 * time.Millisecond), Count: 5}, // OK
		neoKey(25): {LastSeen: base.Add(-3 * time.Second), Count: 2},        // STALE
		// 10 не видели — MISSING.
	}

	seen, missing := agg.GroupRollup(g, snap, base)
	// STALE для группы равносилен пропаже.
	assert.Equal(t, 1, seen)
	assert.Equal(t, 2, missing)
	assert.Equal(t, len(g.Keys), seen+missing)
}

func TestLegacyRollup(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	// Два ключа разделяют номер 10: разные производитель/тип.
	otherKey := canid.DeviceKey{Manufacturer: 9, DeviceType: 3, DeviceID: 10}
	specs := []common.DeviceSpec{
		{Key: neoKey(10), Label: "NEO 10"},
		{Key: otherKey, Label: "Sensor 10"},
	}
	agg := NewAggregator(specs, nil, nil, time.Second)
	require.Equal(t, []canid.DeviceKey{neoKey(10), otherKey}, agg.KeysByID(10))

	snap := Snapshot{
		neoKey(10): {LastSeen: base.Add(-3 * time.Second), Count: 7},         // STALE
		otherKey:   {LastSeen: base.Add(-100 * time.Millisecond), Count: 11}, // OK
	}

	legacy := agg.LegacyRollup(10, snap, base)
	// Счётчики суммируются, отметка — самая свежая, статус — лучший.
	assert.Equal(t, uint64(18), legacy.TotalCount)
	assert.Equal(t, base.Add(-100*time.Millisecond), legacy.BestLastSeen)
	assert.Equal(t, 100*time.Millisecond, legacy.BestAge)
	assert.Equal(t, StatusOK, legacy.Status)
}

func TestLegacyRollupPriority(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	otherKey := canid.DeviceKey{Manufacturer: 9, DeviceType: 3, DeviceID: 10}
	specs := []common.DeviceSpec{
		{Key: neoKey(10), Label: "NEO 10"},
		{Key: otherKey, Label: "Sensor 10"},
	}
	agg := NewAggregator(specs, nil, nil, time.Second)

	// Никого не видели — MISSING.
	legacy := agg.LegacyRollup(10, Snapshot{}, base)
	assert.Equal(t, StatusMissing, legacy.Status)
	assert.True(t, legacy.BestLastSeen.IsZero())

	// STALE перекрывает MISSING.
	snap := Snapshot{neoKey(10): {LastSeen: base.Add(-5 * time.Second), Count: 1}}
	legacy = agg.LegacyRollup(10, snap, base)
	assert.Equal(t, StatusStale, legacy.Status)
	assert.Equal(t, 5*time.Second, legacy.BestAge)
}
