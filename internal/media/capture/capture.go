// Package capture provides a media.Source backed by real devices where the
// build supports it.
package capture

import (
	"github.com/sajacaros/conference-chat/internal/media"
	"github.com/sajacaros/conference-chat/internal/util"
)

var log = util.Scope("capture")

var _ media.Source = (*Source)(nil)
