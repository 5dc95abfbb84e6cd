package store

import (
	"context"
)

// OwnerProfileVersion is the current shape of OwnerProfile.
const OwnerProfileVersion = 1

// OwnerProfile records per-owner vector settings. It replaces a free-form
// settings map with named fields; Version tracks shape changes.
type OwnerProfile struct {
	OwnerID        string
	Version        int
	EmbeddingModel string
	// Dimension is the established vector length for every record of this owner.
	Dimension int
	UpdatedTs int64
}

// GetOwnerProfile returns the owner's profile or nil when none exists.
func (s *Store) GetOwnerProfile(ctx context.Context, ownerID string) (*OwnerProfile, error) {
	if p, ok := s.profiles.Load(ownerID); ok {
		cp := *p.(*OwnerProfile)
		return &cp, nil
	}
	p, err := s.driver.GetOwnerProfile(ctx, ownerID)
	if err != nil {
		return nil, unavailable(err, "get owner profile")
	}
	if p != nil {
		s.profiles.Store(ownerID, p)
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

// checkDimension establishes or verifies the owner's dimension.
// Callers hold the owner's writer lock.
//
// An owner without any stored vectors may switch dimension, which lets a
// provider change take effect once old records are pruned or cleared.
func (s *Store) checkDimension(ctx context.Context, ownerID, model string, dim int) error {
	current, err := s.GetOwnerProfile(ctx, ownerID)
	if err != nil {
		return err
	}
	if current != nil && current.Dimension == dim {
		return nil
	}
	if current != nil {
		count, err := s.driver.CountOwnerVectors(ctx, ownerID)
		if err != nil {
			return unavailable(err, "count owner vectors")
		}
		if count > 0 {
			return &DimensionMismatchError{OwnerID: ownerID, Expected: current.Dimension, Got: dim}
		}
	}

	p := &OwnerProfile{
		OwnerID:        ownerID,
		Version:        OwnerProfileVersion,
		EmbeddingModel: model,
		Dimension:      dim,
		UpdatedTs:      s.now().Unix(),
	}
	if err := s.driver.UpsertOwnerProfile(ctx, p); err != nil {
		return unavailable(err, "upsert owner profile")
	}
	s.profiles.Store(ownerID, p)
	return nil
}
