package scheduling

import (
	"github.com/lorisconti/drivehub-backend/internal/availability"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

// Scorer ranks a candidate slot for one instructor/vehicle pairing. Higher
// wins.
type Scorer interface {
	Score(ix *availability.Index, instructor, vehicle availability.OwnerKey, slot timeslot.Interval) int
}

// AdjacencyScorer prefers slots that pack against existing bookings so
// instructor and vehicle days stay dense instead of fragmenting into unusable
// gaps. One point per calendar edge the candidate touches.
type AdjacencyScorer struct{}

func (AdjacencyScorer) Score(ix *availability.Index, instructor, vehicle availability.OwnerKey, slot timeslot.Interval) int {
	score := 0
	for _, key := range []availability.OwnerKey{instructor, vehicle} {
		for _, busy := range ix.Busy(key) {
			if slot.AbutsEndOf(busy) || slot.AbutsStartOf(busy) {
				score++
			}
		}
	}
	return score
}
