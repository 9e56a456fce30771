package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-go-golems/helix/pkg/store"
)

func groupWithPairs(pairs int, activeIndex int) *store.VersionGroup {
	g := &store.VersionGroup{ActiveIndex: activeIndex}
	for i := 0; i < pairs*2; i++ {
		g.Versions = append(g.Versions, "msg")
	}
	return g
}

func TestNormalizeIndex(t *testing.T) {
	assert.Equal(t, 0, NormalizeIndex(0))
	assert.Equal(t, 0, NormalizeIndex(1))
	assert.Equal(t, 2, NormalizeIndex(2))
	assert.Equal(t, 2, NormalizeIndex(3))
	assert.Equal(t, 0, NormalizeIndex(-1))
}

func TestVersionInfo(t *testing.T) {
	assert.Equal(t, Info{Current: 1, Total: 1}, VersionInfo(groupWithPairs(0, 0)))
	assert.Equal(t, Info{Current: 1, Total: 2}, VersionInfo(groupWithPairs(2, 0)))
	assert.Equal(t, Info{Current: 2, Total: 2}, VersionInfo(groupWithPairs(2, 2)))
}

func TestHasMultipleVersions(t *testing.T) {
	assert.False(t, HasMultipleVersions(groupWithPairs(1, 0)))
	assert.True(t, HasMultipleVersions(groupWithPairs(2, 0)))
}

func TestNavigateBoundariesAreIdempotent(t *testing.T) {
	g := groupWithPairs(2, 0)
	assert.Equal(t, 0, Navigate(g, DirectionPrev), "prev at first pair stays put")

	g.ActiveIndex = 2
	assert.Equal(t, 2, Navigate(g, DirectionNext), "next at last pair stays put")
}

func TestNavigatePrevFromSecondPair(t *testing.T) {
	g := groupWithPairs(2, 2)
	assert.Equal(t, 0, Navigate(g, DirectionPrev))

	g.ActiveIndex = 0
	assert.Equal(t, Info{Current: 1, Total: 2}, VersionInfo(g))
}

func TestNavigateNextAdvances(t *testing.T) {
	g := groupWithPairs(3, 0)
	assert.Equal(t, 2, Navigate(g, DirectionNext))
	g.ActiveIndex = 2
	assert.Equal(t, 4, Navigate(g, DirectionNext))
}

func TestActivePairToleratesOddIndex(t *testing.T) {
	g := &store.VersionGroup{
		ActiveIndex: 3,
		Versions:    store.StringList{"a", "b", "c", "d"},
		Messages: []store.Message{
			{Content: "u1"}, {Content: "a1"}, {Content: "u2"}, {Content: "a2"},
		},
	}
	user, assistant, ok := ActivePair(g)
	assert.True(t, ok)
	assert.Equal(t, "u2", user.Content)
	assert.Equal(t, "a2", assistant.Content)
}

func TestActivePairEmptyGroup(t *testing.T) {
	g := &store.VersionGroup{}
	_, _, ok := ActivePair(g)
	assert.False(t, ok)
}
