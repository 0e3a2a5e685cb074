package matching

import (
	"errors"
	"fmt"
	"math"
)

// Action is the outcome class of a resolution.
type Action string

const (
	ActionAutoLinked       Action = "auto_linked"
	ActionCandidateCreated Action = "candidate_created"
	ActionNoMatch          Action = "no_match"
)

// Policy holds the thresholds and limits of the matcher chain.
type Policy struct {
	AutoLinkThreshold float64 `yaml:"auto_link_threshold"`
	ReviewThreshold   float64 `yaml:"review_threshold"`
	// AmbiguityMargin: the top two fuzzy scores closer than this trigger the semantic matcher.
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`
	NoiseFloor      float64 `yaml:"noise_floor"`
	TopK            int     `yaml:"top_k"`
	// MaxInferredConfidence caps fuzzy and semantic scores; 1.0 is reserved for exact matches.
	MaxInferredConfidence float64 `yaml:"max_inferred_confidence"`
}

func DefaultPolicy() Policy {
	return Policy{
		AutoLinkThreshold:     0.85,
		ReviewThreshold:       0.65,
		AmbiguityMargin:       0.1,
		NoiseFloor:            0.5,
		TopK:                  5,
		MaxInferredConfidence: 0.95,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if !(p.ReviewThreshold > 0 && p.ReviewThreshold < p.AutoLinkThreshold && p.AutoLinkThreshold <= 1) {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < review (%v) < auto link (%v) <= 1",
			p.ReviewThreshold, p.AutoLinkThreshold))
	}
	if p.AmbiguityMargin < 0 || p.AmbiguityMargin >= 1 {
		errs = append(errs, fmt.Errorf("ambiguity margin %v out of [0,1)", p.AmbiguityMargin))
	}
	if p.NoiseFloor < 0 || p.NoiseFloor > p.ReviewThreshold {
		errs = append(errs, fmt.Errorf("noise floor %v out of [0, review threshold]", p.NoiseFloor))
	}
	if p.TopK < 1 {
		errs = append(errs, fmt.Errorf("top k must be positive, got %d", p.TopK))
	}
	if p.MaxInferredConfidence <= p.ReviewThreshold || p.MaxInferredConfidence >= 1 {
		errs = append(errs, fmt.Errorf("max inferred confidence %v out of (review threshold, 1)", p.MaxInferredConfidence))
	}
	return errors.Join(errs...)
}

// Classify maps a confidence onto an action.
func (p Policy) Classify(confidence float64) Action {
	switch {
	case confidence >= p.AutoLinkThreshold:
		return ActionAutoLinked
	case confidence >= p.ReviewThreshold:
		return ActionCandidateCreated
	}
	return ActionNoMatch
}

// inferred clamps a fuzzy or semantic score and rounds it to two decimals.
func (p Policy) inferred(score float64) float64 {
	score = math.Max(0, math.Min(score, p.MaxInferredConfidence))
	return math.Round(score*100) / 100
}
