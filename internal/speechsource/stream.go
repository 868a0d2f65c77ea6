package speechsource

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// StreamConfig configures a StreamSource.
type StreamConfig struct {
	SampleRate int
	ChunkSize  int
	Pool       *bufferpool.Pool[int16]
	Logger     logger.Logger
}

// StreamSource emits raw signed 16-bit little-endian mono PCM read from an
// io.Reader, such as a pipe on stdin. A stream can be produced once; it dries
// at EOF.
type StreamSource struct {
	emitter

	r   io.Reader
	cfg StreamConfig
	log logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	err     error
	done    chan struct{}
}

// NewStreamSource wraps r.
func NewStreamSource(r io.Reader, cfg StreamConfig) (*StreamSource, error) {
	if r == nil {
		return nil, errors.Newf("stream source needs a reader").
			Component("speechsource").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.Newf("invalid sample rate: %d", cfg.SampleRate).
			Component("speechsource").
			Category(errors.CategoryInvalidArgument).
			Context("sample_rate", cfg.SampleRate).
			Build()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	return &StreamSource{r: r, cfg: cfg, log: cfg.Logger, done: make(chan struct{})}, nil
}

// SampleRate returns the configured sample rate.
func (s *StreamSource) SampleRate() int { return s.cfg.SampleRate }

// StartProduce starts reading the stream. Readers cannot be rewound, so a
// second call fails.
func (s *StreamSource) StartProduce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Newf("stream can only be produced once").
			Component("speechsource").
			Category(errors.CategoryState).
			Build()
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	gen := s.begin()
	go func() {
		defer close(s.done)
		s.produce(ctx, gen)
	}()
	return nil
}

// StopProduce ends emission. A read in progress is not interrupted; the
// producer exits once it returns.
func (s *StreamSource) StopProduce() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.end()
}

// Done is closed when the producer goroutine exits.
func (s *StreamSource) Done() <-chan struct{} { return s.done }

// Err returns the read error that ended the stream, if any. EOF is not an
// error. It is set before Dried is delivered.
func (s *StreamSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamSource) produce(ctx context.Context, gen uint64) {
	raw := make([]byte, s.cfg.ChunkSize*2)
	// An odd byte left over from the previous read.
	pending := 0
	total := 0

	for ctx.Err() == nil {
		n, err := s.r.Read(raw[pending:])
		n += pending

		if frames := n / 2; frames > 0 {
			if !s.emit(gen, raw[:frames*2], frames) {
				return
			}
			total += frames
		}
		pending = n % 2
		if pending == 1 {
			raw[0] = raw[n-1]
		}

		if err == nil {
			continue
		}
		if err != io.EOF {
			wrapped := errors.New(err).
				Component("speechsource").
				Category(errors.CategoryAudioSource).
				Context("operation", "read_stream").
				Build()
			s.mu.Lock()
			s.err = wrapped
			s.mu.Unlock()
			s.log.Error("stream read failed", logger.Int("samples", total), logger.Error(wrapped))
		}
		if s.emitDried(gen) {
			s.log.Debug("stream dried", logger.Int("samples", total))
		}
		return
	}
}

func (s *StreamSource) emit(gen uint64, raw []byte, frames int) bool {
	var buf []int16
	if s.cfg.Pool != nil {
		var err error
		if buf, err = s.cfg.Pool.Rent(frames); err != nil {
			s.log.Error("failed to rent sample buffer", logger.Int("size", frames), logger.Error(err))
			return false
		}
		defer s.cfg.Pool.Return(buf)
	} else {
		buf = make([]int16, frames)
	}

	decodeS16LE(buf, raw)
	return s.emitSamples(gen, buf, frames)
}

// decodeS16LE fills dst with little-endian samples from src.
func decodeS16LE(dst []int16, src []byte) {
	for i := 0; i+1 < len(src); i += 2 {
		dst[i/2] = int16(binary.LittleEndian.Uint16(src[i:]))
	}
}
