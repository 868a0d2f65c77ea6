package speechsource

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// Microphone defaults.
const (
	DefaultMicrophoneSampleRate = 16000
	DefaultTimeSensitivity      = 100 * time.Millisecond
	DefaultCaptureBuffer        = 2 * time.Second
)

// MicrophoneConfig configures a MicrophoneSource.
type MicrophoneConfig struct {
	// Device selects the first capture device whose name contains it; empty
	// means the system default.
	Device     string
	SampleRate int
	// TimeSensitivity is how often captured audio is handed to listeners.
	TimeSensitivity time.Duration
	// BufferDuration sizes the capture ring buffer.
	BufferDuration time.Duration
	Pool           *bufferpool.Pool[int16]
	Logger         logger.Logger
}

// MicrophoneSource captures 16-bit mono audio from a device. The device runs
// between StartMicrophone and StopMicrophone; StartProduce and StopProduce
// only decide whether captured audio reaches listeners. Audio captured while
// not producing is discarded.
type MicrophoneSource struct {
	emitter

	cfg MicrophoneConfig
	log logger.Logger
	rb  *ringbuffer.RingBuffer

	mu      sync.Mutex
	gen     uint64
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	quit    chan struct{}
	wg      sync.WaitGroup
	scratch []byte

	dropped atomic.Int64
}

// NewMicrophoneSource prepares a source; no device is opened until
// StartMicrophone.
func NewMicrophoneSource(cfg MicrophoneConfig) *MicrophoneSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultMicrophoneSampleRate
	}
	if cfg.TimeSensitivity <= 0 {
		cfg.TimeSensitivity = DefaultTimeSensitivity
	}
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = DefaultCaptureBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	capacity := int(cfg.BufferDuration.Seconds()*float64(cfg.SampleRate)) * 2
	return &MicrophoneSource{
		cfg: cfg,
		log: cfg.Logger,
		rb:  ringbuffer.New(capacity),
	}
}

// ListDevices returns the names of the available capture devices.
func ListDevices() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, audioSourceError(err, "init_context")
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, audioSourceError(err, "list_devices")
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// SampleRate returns the capture rate.
func (m *MicrophoneSource) SampleRate() int { return m.cfg.SampleRate }

// StartProduce starts delivering captured audio. It is a no-op while already
// producing.
func (m *MicrophoneSource) StartProduce() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.producing(m.gen) {
		return nil
	}
	m.gen = m.begin()
	return nil
}

// StopProduce stops delivering captured audio.
func (m *MicrophoneSource) StopProduce() {
	m.end()
}

// IsCapturing reports whether the device is running.
func (m *MicrophoneSource) IsCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil
}

// Dropped returns the number of captured bytes lost to a full ring buffer.
func (m *MicrophoneSource) Dropped() int64 {
	return m.dropped.Load()
}

// StartMicrophone opens the capture device and starts draining it every
// TimeSensitivity.
func (m *MicrophoneSource) StartMicrophone() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return errors.Newf("microphone already started").
			Component("speechsource").
			Category(errors.CategoryState).
			Build()
	}

	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	mctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		m.log.Debug("audio backend", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return audioSourceError(err, "init_context")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	name := "default"
	if m.cfg.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			releaseContext(mctx)
			return audioSourceError(err, "list_devices")
		}
		idx := -1
		for i, info := range infos {
			if strings.Contains(info.Name(), m.cfg.Device) {
				idx = i
				break
			}
		}
		if idx < 0 {
			releaseContext(mctx)
			return errors.Newf("no capture device matches %q", m.cfg.Device).
				Component("speechsource").
				Category(errors.CategoryNotFound).
				Context("device", m.cfg.Device).
				Build()
		}
		deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
		name = infos[idx].Name()
	}

	m.rb.Reset()
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			m.write(pInput)
		},
	})
	if err != nil {
		releaseContext(mctx)
		return audioSourceError(err, "init_device")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(mctx)
		return audioSourceError(err, "start_device")
	}

	m.mctx, m.device = mctx, device
	m.quit = make(chan struct{})
	m.wg.Add(1)
	go m.drainLoop(m.quit)

	m.log.Info("microphone started",
		logger.String("device", name),
		logger.Int("sample_rate", m.cfg.SampleRate),
		logger.Duration("time_sensitivity", m.cfg.TimeSensitivity))
	return nil
}

// StopMicrophone closes the device, delivers what was still buffered and
// signals Dried to a producing run. It is a no-op when not started.
func (m *MicrophoneSource) StopMicrophone() {
	m.mu.Lock()
	device, mctx, quit := m.device, m.mctx, m.quit
	m.device, m.mctx, m.quit = nil, nil, nil
	gen := m.gen
	m.mu.Unlock()

	if device == nil {
		return
	}

	if err := device.Stop(); err != nil {
		m.log.Warn("failed to stop capture device", logger.Error(err))
	}
	device.Uninit()
	releaseContext(mctx)

	close(quit)
	m.wg.Wait()

	m.drain()
	m.emitDried(gen)
	m.log.Info("microphone stopped", logger.Int64("dropped_bytes", m.dropped.Load()))
}

// write is the device data callback.
func (m *MicrophoneSource) write(p []byte) {
	n, err := m.rb.Write(p)
	if err == nil {
		return
	}
	m.dropped.Add(int64(len(p) - n))
	if errors.Is(err, ringbuffer.ErrIsFull) {
		m.log.Debug("capture buffer full, dropping audio", logger.Int("bytes", len(p)-n))
		return
	}
	m.log.Warn("capture buffer write failed", logger.Error(err))
}

func (m *MicrophoneSource) drainLoop(quit <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TimeSensitivity)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			m.drain()
		}
	}
}

// drain hands everything captured since the last drain to listeners in
// chunks of at most DefaultChunkSize samples.
func (m *MicrophoneSource) drain() {
	available := m.rb.Length()
	available -= available % 2
	if available == 0 {
		return
	}

	if cap(m.scratch) < available {
		m.scratch = make([]byte, available)
	}
	raw := m.scratch[:available]
	n, err := m.rb.Read(raw)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		m.log.Warn("capture buffer read failed", logger.Error(err))
		return
	}
	raw = raw[:n-n%2]

	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	if !m.producing(gen) {
		return
	}

	for len(raw) > 0 {
		frames := min(len(raw)/2, DefaultChunkSize)
		buf, err := m.rent(frames)
		if err != nil {
			m.log.Error("failed to rent sample buffer", logger.Int("size", frames), logger.Error(err))
			return
		}
		decodeS16LE(buf, raw[:frames*2])
		delivered := m.emitSamples(gen, buf, frames)
		m.recycle(buf)
		if !delivered {
			return
		}
		raw = raw[frames*2:]
	}
}

func (m *MicrophoneSource) rent(n int) ([]int16, error) {
	if m.cfg.Pool == nil {
		return make([]int16, n), nil
	}
	return m.cfg.Pool.Rent(n)
}

func (m *MicrophoneSource) recycle(buf []int16) {
	if m.cfg.Pool != nil {
		m.cfg.Pool.Return(buf)
	}
}

func releaseContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}

func audioSourceError(err error, op string) error {
	return errors.New(err).
		Component("speechsource").
		Category(errors.CategoryAudioSource).
		Context("operation", op).
		Build()
}
