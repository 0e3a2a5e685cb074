package candidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

var (
	ErrAlreadyResolved = errors.New("candidate already resolved")
	ErrInvalidStatus   = errors.New("invalid review status")
)

// DefaultReviewer is recorded when the caller names no reviewer.
const DefaultReviewer = "admin"

// CandidateService owns the review lifecycle: pending -> approved | rejected.
type CandidateService struct {
	store    store.Store
	logger   *zap.SugaredLogger
	attempts uint

	newIdentityID func() string
	now           func() time.Time
}

func NewCandidateService(st store.Store, attempts uint, logger *zap.SugaredLogger) *CandidateService {
	if attempts == 0 {
		attempts = 3
	}
	return &CandidateService{
		store:         st,
		logger:        logger,
		attempts:      attempts,
		newIdentityID: utilities.NewSnowflakeID,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// List returns candidates with the status, newest first; "" lists pending ones.
func (s *CandidateService) List(ctx context.Context, status string) ([]*entity.MatchCandidate, error) {
	st, err := entity.ParseReviewStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	return s.store.ListCandidates(ctx, st)
}

func (s *CandidateService) Get(ctx context.Context, id string) (*entity.MatchCandidate, error) {
	return s.store.GetCandidate(ctx, id)
}

type approval struct {
	profile   *profileentity.Profile
	candidate *entity.MatchCandidate
}

// Approve merges the candidate's source profile into its target and attaches
// any subject identifier not stored yet. All of it commits or nothing does.
func (s *CandidateService) Approve(ctx context.Context, id, reviewer string) (*profileentity.Profile, *entity.MatchCandidate, error) {
	reviewer = reviewerOrDefault(reviewer)
	out, err := store.Retry(ctx, s.attempts, s.logger, func() (approval, error) {
		var res approval
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			c, err := lockPending(ctx, tx, id)
			if err != nil {
				return err
			}
			target, err := store.LiveProfile(ctx, tx, c.TargetProfileID)
			if err != nil {
				return fmt.Errorf("load target profile: %w", err)
			}

			if c.SourceProfileID != "" {
				source, err := store.LiveProfile(ctx, tx, c.SourceProfileID)
				if err != nil {
					return fmt.Errorf("load source profile: %w", err)
				}
				if source.ID != target.ID {
					moved, err := tx.ReparentIdentities(ctx, source.ID, target.ID, c.Confidence, true)
					if err != nil {
						return fmt.Errorf("reparent identities: %w", err)
					}
					if err := tx.SetProfileStatus(ctx, source.ID, profileentity.StatusMerged, target.ID); err != nil {
						return fmt.Errorf("mark source merged: %w", err)
					}
					s.logger.Debugw("merged profile", "source", source.ID, "target", target.ID, "identities", moved)
				}
			}

			for _, si := range c.Subject.Identifiers {
				_, err := tx.FindIdentity(ctx, si.Platform, si.Normalized)
				if err == nil {
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if err := tx.CreateIdentity(ctx, &profileentity.PlatformIdentity{
					ID:            s.newIdentityID(),
					ProfileID:     target.ID,
					Platform:      si.Platform,
					RawIdentifier: si.Raw,
					Identifier:    si.Normalized,
					DisplayName:   c.Subject.DisplayName,
					Verified:      true,
					Confidence:    c.Confidence,
				}); err != nil {
					return fmt.Errorf("attach %s: %w", profileentity.IdentityKey(si.Platform, si.Normalized), err)
				}
			}

			if err := tx.ResolveCandidate(ctx, c.ID, entity.ReviewApproved, reviewer, s.now()); err != nil {
				return err
			}
			if res.profile, err = tx.GetProfile(ctx, target.ID); err != nil {
				return err
			}
			res.candidate, err = tx.GetCandidate(ctx, c.ID)
			return err
		})
		return res, err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Infow("candidate approved", "candidate_id", id, "profile_id", out.profile.ID, "reviewer", reviewer)
	return out.profile, out.candidate, nil
}

// Reject closes the candidate; a provisional source profile becomes active.
func (s *CandidateService) Reject(ctx context.Context, id, reviewer string) (*entity.MatchCandidate, error) {
	reviewer = reviewerOrDefault(reviewer)
	c, err := store.Retry(ctx, s.attempts, s.logger, func() (*entity.MatchCandidate, error) {
		var out *entity.MatchCandidate
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			c, err := lockPending(ctx, tx, id)
			if err != nil {
				return err
			}
			if c.SourceProfileID != "" {
				src, err := tx.GetProfile(ctx, c.SourceProfileID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if src != nil && src.Status == profileentity.StatusUnderReview {
					if err := tx.SetProfileStatus(ctx, src.ID, profileentity.StatusActive, ""); err != nil {
						return err
					}
				}
			}
			if err := tx.ResolveCandidate(ctx, c.ID, entity.ReviewRejected, reviewer, s.now()); err != nil {
				return err
			}
			out, err = tx.GetCandidate(ctx, c.ID)
			return err
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("candidate rejected", "candidate_id", id, "reviewer", reviewer)
	return c, nil
}

func lockPending(ctx context.Context, tx store.Tx, id string) (*entity.MatchCandidate, error) {
	c, err := tx.LockCandidate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", id, err)
	}
	if c.Resolved() {
		return nil, fmt.Errorf("candidate %s is %s: %w", id, c.Status, ErrAlreadyResolved)
	}
	return c, nil
}

func reviewerOrDefault(r string) string {
	if r == "" {
		return DefaultReviewer
	}
	return r
}
