//go:build !(linux && cgo)

package capture

import (
	"context"
	"fmt"

	"github.com/sajacaros/conference-chat/internal/media"
)

// Available reports whether this build can capture devices.
const Available = false

// Source is a placeholder on builds without device drivers; every request
// fails with media.ErrUnavailable.
type Source struct{}

func New() (*Source, error) {
	log.Debugf("device capture not built in")
	return &Source{}, nil
}

func (*Source) UserMedia(context.Context) (*media.Stream, error) {
	return nil, fmt.Errorf("%w: device capture needs linux with cgo", media.ErrUnavailable)
}

func (*Source) DisplayMedia(context.Context) (*media.Stream, error) {
	return nil, fmt.Errorf("%w: display capture needs linux with cgo", media.ErrUnavailable)
}
