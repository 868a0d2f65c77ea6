package speechsource

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/time/rate"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// DefaultChunkSize is the largest number of samples emitted per callback.
const DefaultChunkSize = 4096

// ClipConfig configures a ClipSource.
type ClipConfig struct {
	// ChunkSize caps the samples per SamplesReady call.
	ChunkSize int
	// Realtime paces emission at the clip's sample rate.
	Realtime bool
	Pool     *bufferpool.Pool[int16]
	Logger   logger.Logger
}

// ClipSource plays an in-memory clip. Every production run starts from the
// beginning of the clip and dries when the clip is exhausted.
type ClipSource struct {
	emitter

	samples    []int16
	sampleRate int
	cfg        ClipConfig
	log        logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

// NewClipSource wraps samples recorded at sampleRate.
func NewClipSource(samples []int16, sampleRate int, cfg ClipConfig) (*ClipSource, error) {
	if sampleRate <= 0 {
		return nil, errors.Newf("invalid sample rate: %d", sampleRate).
			Component("speechsource").
			Category(errors.CategoryInvalidArgument).
			Context("sample_rate", sampleRate).
			Build()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	return &ClipSource{
		samples:    samples,
		sampleRate: sampleRate,
		cfg:        cfg,
		log:        cfg.Logger,
	}, nil
}

// OpenWAV decodes the WAV file at path into a ClipSource.
func OpenWAV(path string, cfg ClipConfig) (*ClipSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("speechsource").
			Category(errors.CategoryNotFound).
			FileContext(path, "open_clip").
			Build()
	}
	defer f.Close()

	samples, rate, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	return NewClipSource(samples, rate, cfg)
}

// DecodeWAV reads a PCM WAV stream as 16-bit samples. Multi-channel audio is
// mixed down to mono; 8, 24 and 32-bit samples are rescaled.
func DecodeWAV(r io.ReadSeeker) (samples []int16, sampleRate int, err error) {
	decoder := wav.NewDecoder(r)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.Newf("not a valid WAV stream").
			Component("speechsource").
			Category(errors.CategoryInvalidFormat).
			Build()
	}

	channels := int(decoder.NumChans)
	depth := int(decoder.BitDepth)
	if channels < 1 {
		return nil, 0, errors.Newf("WAV stream declares no channels").
			Component("speechsource").
			Category(errors.CategoryInvalidFormat).
			Build()
	}
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, 0, errors.Newf("unsupported bit depth: %d", depth).
			Component("speechsource").
			Category(errors.CategoryInvalidFormat).
			Context("bit_depth", depth).
			Build()
	}

	buf := &audio.IntBuffer{
		Data: make([]int, DefaultChunkSize*channels),
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(decoder.SampleRate),
		},
	}

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, errors.New(err).
				Component("speechsource").
				Category(errors.CategoryInvalidFormat).
				Context("operation", "decode_wav").
				Build()
		}
		if n == 0 {
			break
		}
		// Partial trailing frames are dropped.
		for i := 0; i+channels <= n; i += channels {
			sum := 0
			for c := range channels {
				sum += scaleSample(buf.Data[i+c], depth)
			}
			samples = append(samples, int16(sum/channels))
		}
	}

	return samples, int(decoder.SampleRate), nil
}

// scaleSample converts a decoded sample of the given depth to the 16-bit range.
func scaleSample(v, depth int) int {
	switch depth {
	case 8:
		// 8-bit WAV is unsigned.
		return (v - 128) << 8
	case 24:
		return v >> 8
	case 32:
		return v >> 16
	default:
		return v
	}
}

// SampleRate returns the clip's sample rate.
func (c *ClipSource) SampleRate() int { return c.sampleRate }

// Len returns the clip length in samples.
func (c *ClipSource) Len() int { return len(c.samples) }

// StartProduce plays the clip from the beginning on a new goroutine.
func (c *ClipSource) StartProduce() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producing(c.gen) {
		return errors.Newf("clip is already producing").
			Component("speechsource").
			Category(errors.CategoryState).
			Build()
	}

	// The previous run has dried or been stopped; make sure its goroutine is gone.
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.gen = c.begin()
	gen := c.gen

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.produce(ctx, gen)
	}()
	return nil
}

// StopProduce ends the current run. Listeners are not called after it
// returns; the producer goroutine exits shortly after.
func (c *ClipSource) StopProduce() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.end()
}

// Wait blocks until the producer goroutine has exited.
func (c *ClipSource) Wait() {
	c.wg.Wait()
}

func (c *ClipSource) produce(ctx context.Context, gen uint64) {
	var limiter *rate.Limiter
	if c.cfg.Realtime {
		limiter = rate.NewLimiter(rate.Limit(c.sampleRate), c.cfg.ChunkSize)
	}

	emitted := 0
	for pos := 0; pos < len(c.samples); {
		n := min(c.cfg.ChunkSize, len(c.samples)-pos)

		if limiter != nil {
			if err := limiter.WaitN(ctx, n); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		buf, err := c.rent(n)
		if err != nil {
			c.log.Error("failed to rent sample buffer", logger.Int("size", n), logger.Error(err))
			return
		}
		copy(buf, c.samples[pos:pos+n])
		delivered := c.emitSamples(gen, buf, n)
		c.recycle(buf)
		if !delivered {
			return
		}

		pos += n
		emitted += n
	}

	if c.emitDried(gen) {
		c.log.Debug("clip exhausted", logger.Int("samples", emitted))
	}
}

func (c *ClipSource) rent(n int) ([]int16, error) {
	if c.cfg.Pool == nil {
		return make([]int16, n), nil
	}
	return c.cfg.Pool.Rent(n)
}

func (c *ClipSource) recycle(buf []int16) {
	if c.cfg.Pool != nil {
		c.cfg.Pool.Return(buf)
	}
}
