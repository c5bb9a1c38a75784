package match

// DefaultThreshold gates both identity acceptance and the keep decision.
const DefaultThreshold = 0.35

// Decision is the fused outcome of one analysis.
type Decision struct {
	HorseID    *int64
	HorseName  string
	Identified bool
	Confidence float64
	Kept       bool
}

// Fuse combines the action confidence with the match result. The match only
// counts when its best score clears threshold; otherwise the identity is
// unknown and the action confidence stands alone. A best candidate known
// only by name is identified with a nil HorseID.
func Fuse(actionConfidence float64, r Result, threshold float64) Decision {
	d := Decision{}
	hasBest := r.BestID != nil || r.BestName != ""
	if hasBest && r.BestScore >= threshold {
		d.HorseID = r.BestID
		d.HorseName = r.BestName
		d.Identified = true
		d.Confidence = Round((actionConfidence+r.BestScore)/2, 3)
	} else {
		d.Confidence = Round(actionConfidence, 3)
	}
	d.Kept = d.Confidence >= threshold
	return d
}
