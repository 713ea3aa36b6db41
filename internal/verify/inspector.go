// Package verify checks a finished output against device-compatibility rules.
package verify

import (
	"context"

	"github.com/five82/dovetail/internal/probe"
)

// Inspector provides the media inspection the verifier needs.
// *probe.Prober satisfies it; tests substitute canned results.
type Inspector interface {
	// Probe returns stream properties, tags and Dolby Vision side data.
	Probe(ctx context.Context, path string) (*probe.MediaInfo, error)

	// ContainerBoxes reports which Dolby Vision configuration boxes the container carries.
	ContainerBoxes(ctx context.Context, path string) (probe.Boxes, error)
}
