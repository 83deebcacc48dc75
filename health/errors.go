package health

import "errors"

// ErrWorkerStopped indicates a reclamation worker is no longer running.
var ErrWorkerStopped = errors.New("health: reclamation worker is not running")
