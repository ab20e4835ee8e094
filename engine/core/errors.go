package core

import (
	"errors"
)

var (
	ErrEssenceExists            = errors.New("essence already registered")
	ErrEssenceNotFound          = errors.New("essence not registered")
	ErrEssenceInUse             = errors.New("essence still has variants")
	ErrInvalidMeshData          = errors.New("invalid mesh data")
	ErrUnsupportedInterpolation = errors.New("unsupported interpolation mode")
	ErrQueryPoolExhausted       = errors.New("occlusion query pool exhausted")
	ErrDeviceFailure            = errors.New("device failure")
	ErrUnknownPipeline          = errors.New("no pipeline registered for kind")
	ErrInvalidConfig            = errors.New("invalid engine configuration")
	ErrUnknown                  = errors.New("unknown")
)
