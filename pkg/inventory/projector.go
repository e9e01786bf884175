package inventory

import (
	"sort"
	"strconv"
	"strings"
)

// Filter is the local view state applied to the raw list.
type Filter struct {
	// SearchText matches name, stringified pid or command,
	// case-insensitively. Empty matches all.
	SearchText string
	// Category is "all", "user", "system", "running", "sleeping" or
	// "zombie".
	Category string
	// OwnerOnly additionally excludes the privileged owner set. It
	// composes with any category.
	OwnerOnly bool
	// SortKey is "", "cpu" or "memory".
	SortKey string
}

// privileged owners excluded by the "user" category and OwnerOnly.
var privilegedOwners = map[string]bool{
	"root":   true,
	"system": true,
}

// Project maps (raw entities, filter state) to the displayed list. It
// is pure: the input slice is never mutated and the result is
// recomputed fully on every call.
func Project(entities []Entity, f Filter) []Entity {
	out := make([]Entity, 0, len(entities))
	needle := strings.ToLower(strings.TrimSpace(f.SearchText))

	for _, e := range entities {
		if needle != "" && !matchesSearch(e, needle) {
			continue
		}
		if !matchesCategory(e, f.Category) {
			continue
		}
		if f.OwnerOnly && privilegedOwners[strings.ToLower(e.User)] {
			continue
		}
		out = append(out, e)
	}

	switch f.SortKey {
	case "cpu":
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CPUPercent > out[j].CPUPercent
		})
	case "memory":
		sort.SliceStable(out, func(i, j int) bool {
			return leadingNumber(out[i].MemoryDisplay) > leadingNumber(out[j].MemoryDisplay)
		})
	}
	return out
}

func matchesSearch(e Entity, needle string) bool {
	if strings.Contains(strings.ToLower(e.Name), needle) {
		return true
	}
	if strings.Contains(strconv.Itoa(e.PID), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(e.Command), needle)
}

func matchesCategory(e Entity, category string) bool {
	switch category {
	case "", "all":
		return true
	case "user":
		return !privilegedOwners[strings.ToLower(e.User)]
	case "system":
		return privilegedOwners[strings.ToLower(e.User)]
	case "running":
		return e.Kind() == StatusRunning
	case "sleeping":
		return e.Kind() == StatusSleeping
	case "zombie":
		return e.Kind() == StatusZombie
	default:
		return true
	}
}

// leadingNumber parses the numeric prefix of a memory display value
// such as "123.4MB", ignoring the unit suffix.
func leadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0
	}
	return v
}
