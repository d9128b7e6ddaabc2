package content

import (
	"fmt"
	"strings"
)

// Tier is the retention class of a memory entry.
type Tier string

const (
	// TierCore entries are permanent and never swept.
	TierCore Tier = "core"
	// TierStable entries expire after the stable TTL (7 days by default).
	TierStable Tier = "stable"
	// TierNotes entries expire after the notes TTL (24 hours by default).
	TierNotes Tier = "notes"
)

// sectionHeaders maps a tier to its section header in the memory file.
var sectionHeaders = map[Tier]string{
	TierCore:   "## Core (Permanent)",
	TierStable: "## Stable (7 days)",
	TierNotes:  "## Notes",
}

// ParseTier parses a tier name, defaulting unknown values to stable the way
// the original tooling did.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierCore:
		return TierCore, nil
	case TierStable, "":
		return TierStable, nil
	case TierNotes:
		return TierNotes, nil
	default:
		return TierStable, fmt.Errorf("unknown tier %q", s)
	}
}

// SectionHeader returns the markdown section header for the tier.
func (t Tier) SectionHeader() string {
	if h, ok := sectionHeaders[t]; ok {
		return h
	}
	return sectionHeaders[TierStable]
}

// tierForHeader resolves a `## ` heading line back to a tier, or "" when the
// heading does not belong to a tier section.
func tierForHeader(line string) Tier {
	trimmed := strings.TrimSpace(line)
	for tier, header := range sectionHeaders {
		if trimmed == header {
			return tier
		}
	}
	// Tolerate header drift like "## Core" or "## Notes (24h)".
	switch {
	case strings.HasPrefix(trimmed, "## Core"):
		return TierCore
	case strings.HasPrefix(trimmed, "## Stable"):
		return TierStable
	case strings.HasPrefix(trimmed, "## Notes"):
		return TierNotes
	}
	return ""
}
