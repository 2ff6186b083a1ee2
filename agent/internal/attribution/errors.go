package attribution

import (
	"errors"
	"fmt"
)

// ErrInvalidPath is matched (via errors.Is) by every rejection from
// RecordConversion. It always indicates a caller defect; retrying the same
// input will fail again.
var ErrInvalidPath = errors.New("attribution: invalid path")

// Rejection reasons carried by InvalidPathError.
const (
	ReasonEmptyPath      = "empty_path"
	ReasonUnknownChannel = "unknown_channel"
	ReasonNegativeValue  = "negative_value"
	ReasonInvalidValue   = "invalid_value"
)

// InvalidPathError describes why a conversion was rejected.
type InvalidPathError struct {
	Reason string
	// Channel is the offending channel name for ReasonUnknownChannel.
	Channel string
	// Position is the index of the offending element, or -1.
	Position int
	Value    float64
}

func (e *InvalidPathError) Error() string {
	switch e.Reason {
	case ReasonEmptyPath:
		return "attribution: invalid path: path is empty"
	case ReasonUnknownChannel:
		return fmt.Sprintf("attribution: invalid path: unknown channel %q at position %d", e.Channel, e.Position)
	case ReasonNegativeValue:
		return fmt.Sprintf("attribution: invalid path: negative conversion value %g", e.Value)
	case ReasonInvalidValue:
		return fmt.Sprintf("attribution: invalid path: conversion value %g is not finite", e.Value)
	default:
		return "attribution: invalid path: " + e.Reason
	}
}

// Is reports true for ErrInvalidPath.
func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}
