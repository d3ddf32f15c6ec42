package validation

import "github.com/pestroute/layoutsync/internal/model"

// DetectOverlap reports whether candidate's rectangle intersects any region
// in existing. The region with id excludeID is skipped so a region never
// collides with its own prior placement.
func DetectOverlap(candidate *model.Region, existing []*model.Region, excludeID string) bool {
	return len(FindOverlaps(candidate, existing, excludeID)) > 0
}

// FindOverlaps returns the ids of the regions candidate intersects
func FindOverlaps(candidate *model.Region, existing []*model.Region, excludeID string) []string {
	if candidate == nil {
		return nil
	}
	rect := candidate.Rect()
	var ids []string
	for _, r := range existing {
		if r == nil || (excludeID != "" && r.ID == excludeID) {
			continue
		}
		if rect.Intersects(r.Rect()) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
