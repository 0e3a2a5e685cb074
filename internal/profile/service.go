package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	candidateentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/candidate/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/matching"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

var ErrInvalidInput = errors.New("invalid input")

// ProfileService serves profile and identity reads and routes identity
// submissions through the match orchestrator.
type ProfileService struct {
	store        store.Store
	orchestrator *matching.Orchestrator
	normalizer   *matching.Normalizer
	logger       *zap.SugaredLogger

	newID func() string
}

func NewProfileService(st store.Store, o *matching.Orchestrator, n *matching.Normalizer, logger *zap.SugaredLogger) *ProfileService {
	return &ProfileService{store: st, orchestrator: o, normalizer: n, logger: logger, newID: utilities.NewSnowflakeID}
}

// List returns profiles in the status; "" lists active ones.
func (s *ProfileService) List(ctx context.Context, status string) ([]*entity.Profile, error) {
	st := entity.StatusActive
	if strings.TrimSpace(status) != "" {
		var err error
		if st, err = entity.ParseProfileStatus(status); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return s.store.ListProfiles(ctx, st)
}

func (s *ProfileService) Get(ctx context.Context, id string) (*entity.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// Create stores an empty active profile.
func (s *ProfileService) Create(ctx context.Context, canonicalName string) (*entity.Profile, error) {
	name := matching.NormalizeName(canonicalName)
	if name == "" {
		return nil, fmt.Errorf("%w: canonical_name is required", ErrInvalidInput)
	}
	p := &entity.Profile{ID: s.newID(), CanonicalName: name, Status: entity.StatusActive}
	var out *entity.Profile
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateProfile(ctx, p); err != nil {
			return err
		}
		var err error
		out, err = tx.GetProfile(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("profile created", "profile_id", out.ID)
	return out, nil
}

func (s *ProfileService) ListIdentities(ctx context.Context) ([]*entity.PlatformIdentity, error) {
	return s.store.ListIdentities(ctx)
}

func (s *ProfileService) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

type AddIdentityInput struct {
	Platform    string
	Identifier  string
	DisplayName string
	AutoMatch   bool
}

// AddIdentityResult describes what happened to one submitted identifier.
type AddIdentityResult struct {
	Identity  *entity.PlatformIdentity
	Decision  *matching.Decision
	Candidate *candidateentity.MatchCandidate
}

// AddIdentity resolves the identifier and stores it on the decided profile.
func (s *ProfileService) AddIdentity(ctx context.Context, in AddIdentityInput) (*AddIdentityResult, error) {
	platform, err := entity.ParsePlatform(in.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.Identifier) == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	d, err := s.orchestrator.Resolve(ctx, matching.Request{
		Identifiers: map[entity.Platform]string{platform: in.Identifier},
		DisplayName: in.DisplayName,
		AutoMatch:   in.AutoMatch,
		Mode:        matching.ModeAddIdentity,
	})
	if err != nil {
		return nil, err
	}
	normalized, err := s.normalizer.Normalize(platform, in.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return &AddIdentityResult{
		Identity:  findIdentity(d, platform, normalized),
		Decision:  d,
		Candidate: d.Candidate(),
	}, nil
}

func findIdentity(d *matching.Decision, platform entity.Platform, normalized string) *entity.PlatformIdentity {
	match := func(ids []*entity.PlatformIdentity) *entity.PlatformIdentity {
		for _, i := range ids {
			if i.Platform == platform && i.Identifier == normalized {
				return i
			}
		}
		return nil
	}
	if i := match(d.Identities); i != nil {
		return i
	}
	if d.Profile != nil {
		return match(d.Profile.Identities)
	}
	return nil
}
