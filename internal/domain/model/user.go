// Package model contains domain models passed between layers.
package model

import "strings"

// User is a ranked identity. The core only reads users; identity and
// verification are owned elsewhere.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	GitHubHandle string `json:"github_handle,omitempty"`
	Verified     bool   `json:"verified"`
}

// HasHandle reports whether the user linked a GitHub handle.
func (u User) HasHandle() bool {
	return strings.TrimSpace(u.GitHubHandle) != ""
}

// Syncable reports whether batch sync should fetch metrics for u.
func (u User) Syncable() bool {
	return u.Verified && u.HasHandle()
}

// Profile joins a user with their latest metrics and rating. It is the row
// shape of the aggregate ranking view and of matchup candidates.
type Profile struct {
	User    User            `json:"user"`
	Metrics MetricsSnapshot `json:"metrics"`
	Rating  Rating          `json:"rating"`
	// Rated is false when the user never took part in a match; Rating is then
	// meaningless and the baseline applies.
	Rated bool `json:"rated"`
}

// EffectiveRating returns the stored rating, or baseline for unrated users.
func (p Profile) EffectiveRating(baseline Rating) Rating {
	if !p.Rated {
		return baseline
	}
	return p.Rating
}
