package core

import (
	"errors"
	"fmt"
)

// Initialization failures abort startup.
var (
	ErrInitializationFailure  = errors.New("initialization failure")
	ErrNoSuitableAccelerator  = fmt.Errorf("%w: no suitable accelerator", ErrInitializationFailure)
	ErrInstanceCreationFailed = fmt.Errorf("%w: instance creation failed", ErrInitializationFailure)
	ErrDeviceCreationFailed   = fmt.Errorf("%w: device creation failed", ErrInitializationFailure)
)

// Presentation errors. ErrSwapchainOutOfDate is recovered by rebuilding the
// swapchain, ErrSurfaceLost is fatal.
var (
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrSurfaceLost        = errors.New("surface lost")
	ErrFormatUnsupported  = errors.New("surface format unsupported")
	ErrZeroExtent         = errors.New("surface extent is zero")
)

var (
	ErrTimeout    = errors.New("timed out waiting on the device")
	ErrDeviceLost = errors.New("device lost")
)

// Misuse of the lifecycle API.
var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrDoubleDestroy      = errors.New("destroyed twice")
	ErrShuttingDown       = errors.New("shutting down")
	ErrFrameInProgress    = errors.New("a frame is already in progress")
	ErrInvalidFrame       = errors.New("frame handle is not the frame in progress")
)
