// Package versions implements the branching helpers layered over version
// groups: selecting the active pair, navigating between sibling pairs and
// reporting version info to the client.
package versions

import (
	"github.com/go-go-golems/helix/pkg/store"
)

type Direction string

const (
	DirectionPrev Direction = "prev"
	DirectionNext Direction = "next"
)

// Info describes where the active pair sits among its siblings. Current is
// 1-based for display.
type Info struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// NormalizeIndex rounds an odd index down to the nearest even offset. The
// index invariant makes odd values impossible, but assembly tolerates them
// rather than slicing a pair across two turns.
func NormalizeIndex(index int) int {
	if index < 0 {
		return 0
	}
	return index - index%2
}

// ActivePair returns the user and assistant messages selected by the group's
// index. Messages must be in creation order. ok is false when the group has
// no complete pair at that offset.
func ActivePair(group *store.VersionGroup) (user, assistant *store.Message, ok bool) {
	idx := NormalizeIndex(group.ActiveIndex)
	if idx+1 >= len(group.Messages) {
		return nil, nil, false
	}
	return &group.Messages[idx], &group.Messages[idx+1], true
}

// HasMultipleVersions reports whether the group holds more than one pair.
func HasMultipleVersions(group *store.VersionGroup) bool {
	return len(group.Versions) > 2
}

// VersionInfo reports the active pair number and total pair count.
func VersionInfo(group *store.VersionGroup) Info {
	total := len(group.Versions) / 2
	if total == 0 {
		return Info{Current: 1, Total: 1}
	}
	return Info{
		Current: NormalizeIndex(group.ActiveIndex)/2 + 1,
		Total:   total,
	}
}

// Navigate computes the index after moving one pair in the given direction.
// It is a no-op at either boundary.
func Navigate(group *store.VersionGroup, direction Direction) int {
	totalPairs := len(group.Versions) / 2
	if totalPairs == 0 {
		return 0
	}
	pair := NormalizeIndex(group.ActiveIndex) / 2
	switch direction {
	case DirectionPrev:
		if pair > 0 {
			pair--
		}
	case DirectionNext:
		if pair < totalPairs-1 {
			pair++
		}
	}
	return pair * 2
}
