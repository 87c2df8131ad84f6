package codec

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyConfigured = errors.New("codec already configured")
	ErrNotConfigured     = errors.New("codec not configured")
	ErrAlreadyStarted    = errors.New("codec already started")
	ErrNotStarted        = errors.New("codec not started")
	ErrStopped           = errors.New("codec stopped")
	ErrInputAfterEOS     = errors.New("input submitted after end of stream")
	ErrSlotNotOwned      = errors.New("slot not owned by caller")
	ErrSlotsOutstanding  = errors.New("slots still owned at stop")
	ErrUnsupportedMime   = errors.New("unsupported mime type")
)

// ConfigureError reports why a track could not be bound to a decoder.
type ConfigureError struct {
	Mime string
	Err  error
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("configure %s: %v", e.Mime, e.Err)
}

func (e *ConfigureError) Unwrap() error { return e.Err }
