package capture

import (
	"errors"
	"sync"
)

// FakeSource hands out FakeDevices. OpenErr and StartErr make the next
// Open or Start fail.
type FakeSource struct {
	OpenErr  error
	StartErr error

	mu      sync.Mutex
	devices []*FakeDevice
	started chan *FakeDevice
}

// NewFakeSource creates a FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{started: make(chan *FakeDevice, 16)}
}

// Open implements Source.
func (s *FakeSource) Open(format Format) (Device, error) {
	if s.OpenErr != nil {
		return nil, classifyDeviceError(s.OpenErr)
	}
	d := &FakeDevice{src: s, format: format}
	s.mu.Lock()
	s.devices = append(s.devices, d)
	s.mu.Unlock()
	return d, nil
}

// Started delivers each device once its Start succeeds.
func (s *FakeSource) Started() <-chan *FakeDevice { return s.started }

// Devices returns every device opened so far.
func (s *FakeSource) Devices() []*FakeDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeDevice(nil), s.devices...)
}

// FakeDevice is an in-memory microphone. Feed pushes PCM to the recorder.
type FakeDevice struct {
	src    *FakeSource
	format Format

	mu      sync.Mutex
	cb      DataCallback
	running bool
	closed  bool
}

func (d *FakeDevice) Start(cb DataCallback) error {
	if d.src.StartErr != nil {
		return classifyDeviceError(d.src.StartErr)
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("device closed")
	}
	d.cb = cb
	d.running = true
	d.mu.Unlock()
	d.src.started <- d
	return nil
}

func (d *FakeDevice) Stop() error {
	d.mu.Lock()
	d.cb = nil
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *FakeDevice) Close() {
	d.mu.Lock()
	d.cb = nil
	d.running = false
	d.closed = true
	d.mu.Unlock()
}

// Feed delivers pcm to the recorder if the device is running.
func (d *FakeDevice) Feed(pcm []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(pcm, uint32(len(pcm))/2)
	}
}

// Closed reports whether the device was released.
func (d *FakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
