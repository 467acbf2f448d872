package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoSource opens the default system capture device through miniaudio.
type MalgoSource struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoSource initializes the audio backend. Close it when done.
func NewMalgoSource() (*MalgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	return &MalgoSource{ctx: ctx}, nil
}

// Devices lists capture device names.
func (s *MalgoSource) Devices() ([]string, error) {
	devices, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name())
	}
	return names, nil
}

// Open implements Source.
func (s *MalgoSource) Open(format Format) (Device, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = format.Channels
	cfg.SampleRate = format.SampleRate

	d := &malgoDevice{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			if cb := d.cb.Load(); cb != nil {
				(*cb)(input, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(s.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, classifyDeviceError(fmt.Errorf("failed to open microphone: %w", err))
	}
	d.dev = dev
	return d, nil
}

// Close releases the audio backend.
func (s *MalgoSource) Close() {
	_ = s.ctx.Uninit()
	s.ctx.Free()
}

type malgoDevice struct {
	dev *malgo.Device
	cb  atomic.Pointer[DataCallback]
}

func (d *malgoDevice) Start(cb DataCallback) error {
	d.cb.Store(&cb)
	if err := d.dev.Start(); err != nil {
		d.cb.Store(nil)
		return classifyDeviceError(fmt.Errorf("failed to start microphone: %w", err))
	}
	return nil
}

func (d *malgoDevice) Stop() error {
	d.cb.Store(nil)
	return d.dev.Stop()
}

func (d *malgoDevice) Close() {
	d.cb.Store(nil)
	d.dev.Uninit()
}
