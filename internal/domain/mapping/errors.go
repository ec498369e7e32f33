package mapping

import "errors"

// ErrNotFound is returned when a mapping id or a referenced code cannot be
// resolved.
var ErrNotFound = errors.New("not found")
