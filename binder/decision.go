package binder

import "fmt"

// TrackID is the tracker-assigned id of one object, stable for the life of
// the track.
type TrackID uint64

// Decision is the identity locked onto a track.
type Decision struct {
	CatUID  string
	Score   float64
	Matched bool
}

// Matched returns a decision binding uid with score.
func Matched(uid string, score float64) Decision {
	return Decision{CatUID: uid, Score: score, Matched: true}
}

// Unmatched returns a decision for a track no enrolled cat matched. score is
// the best similarity seen.
func Unmatched(score float64) Decision {
	return Decision{Score: score}
}

func (d Decision) String() string {
	if !d.Matched {
		return fmt.Sprintf("unmatched(%.3f)", d.Score)
	}
	return fmt.Sprintf("%s(%.3f)", d.CatUID, d.Score)
}
