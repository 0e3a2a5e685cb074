package entity

import (
	"fmt"
	"strings"
	"time"

	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

// MatchType names the matcher that produced a confidence score.
type MatchType string

const (
	MatchDeterministic MatchType = "deterministic"
	MatchFuzzy         MatchType = "fuzzy"
	MatchLLM           MatchType = "llm"
	// MatchDeterministicConflict is raised when identifiers of one request
	// resolve exactly to different profiles.
	MatchDeterministicConflict MatchType = "deterministic-conflict"
)

// ReviewStatus is the lifecycle of a match candidate.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ParseReviewStatus validates a status filter; empty means pending.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch st := ReviewStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return ReviewPending, nil
	case ReviewPending, ReviewApproved, ReviewRejected:
		return st, nil
	}
	return "", fmt.Errorf("unsupported review status %q", s)
}

// SubjectIdentifier is one identifier of the submitted payload.
type SubjectIdentifier struct {
	Platform   profileentity.Platform `json:"platform"`
	Raw        string                 `json:"raw"`
	Normalized string                 `json:"normalized"`
}

// Subject is the identity payload a candidate proposes to place on a profile.
type Subject struct {
	Identifiers []SubjectIdentifier `json:"identifiers"`
	DisplayName string              `json:"display_name,omitempty"`
}

// MatchCandidate is a proposed, unconfirmed association (row in `match_candidates`).
// SourceProfileID is the provisional or conflicting profile that is merged into
// TargetProfileID on approval; it is empty when the subject was never stored.
type MatchCandidate struct {
	ID              string       `json:"id"`
	Subject         Subject      `json:"subject"`
	SourceProfileID string       `json:"source_profile_id,omitempty"`
	TargetProfileID string       `json:"target_profile_id"`
	MatchType       MatchType    `json:"match_type"`
	Confidence      float64      `json:"confidence_score"`
	Reasoning       string       `json:"reasoning,omitempty"`
	Status          ReviewStatus `json:"status"`
	ReviewedBy      string       `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Resolved reports whether the candidate already left the pending state.
func (c *MatchCandidate) Resolved() bool { return c.Status != ReviewPending }

// Clone returns a deep copy.
func (c *MatchCandidate) Clone() *MatchCandidate {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Subject.Identifiers = append([]SubjectIdentifier(nil), c.Subject.Identifiers...)
	if c.ReviewedAt != nil {
		t := *c.ReviewedAt
		cp.ReviewedAt = &t
	}
	return &cp
}
