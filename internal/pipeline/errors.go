package pipeline

import "errors"

// Sentinel errors for definition validation.
var (
	ErrUnknownKind        = errors.New("unknown artifact kind")
	ErrUnknownPredicate   = errors.New("unknown stage predicate")
	ErrUnknownPreset      = errors.New("unknown preset")
	ErrUnknownPlaceholder = errors.New("unknown template placeholder")
	ErrInvalidDefinition  = errors.New("invalid pipeline definition")
)
