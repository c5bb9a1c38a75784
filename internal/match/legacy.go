package match

import (
	"strings"

	"github.com/stableguard/stableguard/internal/models"
)

// ResolveByName fills in missing HorseIDs in an older snapshot by looking the
// name up case-insensitively among known identities. Names that differ only
// in case collapse onto whichever identity appears first in known.
func ResolveByName(scores []models.HorseScore, known []Candidate) []models.HorseScore {
	byName := make(map[string]*int64, len(known))
	for _, k := range known {
		key := strings.ToLower(strings.TrimSpace(k.Name))
		if _, dup := byName[key]; !dup {
			byName[key] = k.ID
		}
	}
	out := make([]models.HorseScore, len(scores))
	for i, s := range scores {
		out[i] = s
		if s.HorseID == nil {
			out[i].HorseID = byName[strings.ToLower(strings.TrimSpace(s.HorseName))]
		}
	}
	return out
}
