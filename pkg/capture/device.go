package capture

import (
	"errors"
	"strings"
)

// DataCallback receives little-endian 16-bit PCM as the device produces it.
type DataCallback func(data []byte, frameCount uint32)

// Format is the PCM format requested from a device.
type Format struct {
	SampleRate uint32
	Channels   uint32
}

// Source opens capture devices.
type Source interface {
	Open(format Format) (Device, error)
}

// Device is one open microphone stream. Close releases it and must be safe
// to call after Stop.
type Device interface {
	Start(cb DataCallback) error
	Stop() error
	Close()
}

// classifyDeviceError maps platform refusals onto ErrPermissionDenied.
func classifyDeviceError(err error) error {
	if err == nil || errors.Is(err, ErrPermissionDenied) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return errors.Join(ErrPermissionDenied, err)
	}
	return err
}
