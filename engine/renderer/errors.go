package renderer

import (
	"errors"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// translate maps driver errors onto the engine error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gpu.ErrOutOfDate):
		return core.ErrSwapchainOutOfDate
	case errors.Is(err, gpu.ErrSurfaceLost):
		return core.ErrSurfaceLost
	case errors.Is(err, gpu.ErrDeviceLost):
		return core.ErrDeviceLost
	case errors.Is(err, gpu.ErrTimeout):
		return core.ErrTimeout
	}
	return err
}

// surfaceError is translate for surface queries, where anything other than
// a lost device or surface is reported as a lost surface.
func surfaceError(err error) error {
	err = translate(err)
	if errors.Is(err, core.ErrDeviceLost) || errors.Is(err, core.ErrSurfaceLost) {
		return err
	}
	return core.ErrSurfaceLost
}
