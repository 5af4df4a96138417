package player

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionDestroyed is returned by operations on a destroyed player.
	ErrSessionDestroyed = errors.New("session destroyed")
	// ErrNoNode is returned when no node is registered to host a player.
	ErrNoNode = errors.New("no node available")
	// ErrNothingToPlay is returned by PlayTrack when neither an argument nor a current track exists.
	ErrNothingToPlay = errors.New("no track to play")
	// ErrNoResolver is wrapped in a ResolutionFailedError when resolution is not configured.
	ErrNoResolver = errors.New("no resolver configured")
)

// ResolutionFailedError means the resolution service could not be reached or
// rejected the query. It is distinct from a search with zero results.
type ResolutionFailedError struct {
	Query string
	Err   error
}

func (e *ResolutionFailedError) Error() string {
	return fmt.Sprintf("failed to resolve %q: %v", e.Query, e.Err)
}

func (e *ResolutionFailedError) Unwrap() error {
	return e.Err
}
