// Package pipeline holds the declarative description of transcoding pipelines:
// artifact kinds, stage specifications, presets and the registry that serves them.
package pipeline

import (
	"fmt"
	"strings"
)

// Kind names the role an artifact plays between stages.
type Kind string

const (
	KindSource    Kind = "source"
	KindBitstream Kind = "bitstream"
	KindMetadata  Kind = "metadata"
	KindEncoded   Kind = "encoded"
	KindContainer Kind = "container"
	KindFinal     Kind = "final"
)

// Kinds lists every artifact kind in pipeline order.
var Kinds = []Kind{KindSource, KindBitstream, KindMetadata, KindEncoded, KindContainer, KindFinal}

// Group is a set of kinds that may stand in for each other when a stage is skipped or fails.
type Group int

const (
	GroupContainer Group = iota
	GroupRaw
	GroupMetadata
)

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Group returns the compatibility group of k.
func (k Kind) Group() Group {
	switch k {
	case KindBitstream, KindEncoded:
		return GroupRaw
	case KindMetadata:
		return GroupMetadata
	default:
		return GroupContainer
	}
}

// CompatibleWith reports whether an artifact of kind other can be handed to a consumer of k.
func (k Kind) CompatibleWith(other Kind) bool {
	return k.Group() == other.Group()
}

// Ext is the file extension used for artifacts of this kind.
func (k Kind) Ext() string {
	switch k {
	case KindBitstream, KindEncoded:
		return ".hevc"
	case KindMetadata:
		return ".bin"
	case KindContainer, KindFinal:
		return ".mp4"
	default:
		return ""
	}
}

func (k Kind) String() string { return string(k) }
