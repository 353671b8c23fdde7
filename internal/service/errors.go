package service

import "errors"

var (
	ErrUnsupportedClusteringMethod = errors.New("unsupported clustering method")
	ErrUnknownElectrode            = errors.New("electrode not in probe type")
	ErrAmbiguousHemisphere         = errors.New("photostim hemisphere is ambiguous")
	ErrMultipleBrainAreas          = errors.New("photostim locations span several brain areas")
	ErrUnknownTrialCondition       = errors.New("unknown trial condition")
)
