package main

import (
	"context"
	"errors"

	"ytcatalog/internal/fallback"
	"ytcatalog/internal/pipeline"
	"ytcatalog/internal/storage"
	"ytcatalog/internal/youtube"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitLocked   = 3
	exitQuota    = 4
	exitStopped  = 5
	exitCanceled = 130
)

// exitCode maps a pipeline error to the process exit status. Runs stopped by
// provider exhaustion exit with exitStopped.
func exitCode(err error) int {
	var failure fallback.Failure
	switch {
	case err == nil:
		return exitOK
	case pipeline.IsPrecondition(err):
		return exitUsage
	case errors.Is(err, storage.ErrLockTimeout):
		return exitLocked
	case errors.Is(err, youtube.ErrQuotaExceeded):
		return exitQuota
	case errors.Is(err, context.Canceled):
		return exitCanceled
	case errors.As(err, &failure):
		if failure.Kind == fallback.KindCanceled {
			return exitCanceled
		}
		return exitStopped
	default:
		return exitFailure
	}
}
