package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ephyspipe/internal/models"
	"ephyspipe/internal/repository"
)

const (
	LateralityLeft  = "left"
	LateralityRight = "right"
	LateralityBoth  = "both"
)

// PhotostimRegionService derives the stimulated brain area and hemisphere of
// each photostim protocol from its locations.
type PhotostimRegionService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (s *PhotostimRegionService) Table() string { return "experiment_photostim_brain_region" }

func (s *PhotostimRegionService) KeySource(ctx context.Context) ([]models.PhotostimKey, error) {
	items, err := s.Repo.ListPhotostimsWithoutRegion(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]models.PhotostimKey, len(items))
	for i, item := range items {
		keys[i] = item.Key()
	}
	return keys, nil
}

func (s *PhotostimRegionService) Make(ctx context.Context, key models.PhotostimKey) error {
	locs, err := s.Repo.ListPhotostimLocations(ctx, key)
	if err != nil {
		return err
	}
	area, side, err := BrainRegion(locs)
	if err != nil {
		return fmt.Errorf("photostim %s/%d/%d: %w", key.SubjectID, key.Session, key.PhotoStim, err)
	}
	return s.Repo.CreatePhotostimBrainRegion(ctx, &models.PhotostimBrainRegion{
		SubjectID:      key.SubjectID,
		Session:        key.Session,
		PhotoStim:      key.PhotoStim,
		StimBrainArea:  area,
		StimLaterality: side,
	})
}

// BrainRegion requires a single brain area. Laterality is right when every
// ML offset is positive, left when every one is negative and both when the
// signs are mixed. A zero offset is ambiguous unless both sides are present.
func BrainRegion(locs []models.PhotostimLocation) (area, laterality string, err error) {
	if len(locs) == 0 {
		return "", "", fmt.Errorf("%w: no locations", ErrAmbiguousHemisphere)
	}
	area = locs[0].BrainArea
	var left, right, midline bool
	for _, l := range locs {
		if l.BrainArea != area {
			return "", "", fmt.Errorf("%w: %s and %s", ErrMultipleBrainAreas, area, l.BrainArea)
		}
		switch l.MLLocation.Cmp(decimal.Zero) {
		case 1:
			right = true
		case -1:
			left = true
		default:
			midline = true
		}
	}
	switch {
	case left && right:
		return area, LateralityBoth, nil
	case midline:
		return "", "", fmt.Errorf("%w: midline location on a one-sided protocol", ErrAmbiguousHemisphere)
	case right:
		return area, LateralityRight, nil
	case left:
		return area, LateralityLeft, nil
	}
	return "", "", ErrAmbiguousHemisphere
}
