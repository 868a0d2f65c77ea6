package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/worker"
)

// Transcript is the JSON payload published for every final result.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Time     time.Time `json:"time"`
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Topic           string
	Language        string
	Logger          logger.Logger
	PipelineMetrics *metrics.PipelineMetrics
}

// Publisher forwards final transcripts of a recognizer to an MQTT topic.
// Publishing happens on a background worker so the tick goroutine never
// waits for the broker.
type Publisher struct {
	client Client
	topic  string
	log    logger.Logger
	worker *worker.Worker[Transcript]
	now    func() time.Time

	mu       sync.Mutex
	language string
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPublisher creates a stopped publisher on top of client.
func NewPublisher(client Client, cfg PublisherConfig) (*Publisher, error) {
	if client == nil {
		return nil, errors.Newf("publisher needs an MQTT client").
			Component("mqtt").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if cfg.Topic == "" {
		return nil, errors.Newf("publisher topic not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	p := &Publisher{
		client:   client,
		topic:    cfg.Topic,
		language: cfg.Language,
		log:      cfg.Logger,
		now:      time.Now,
	}
	if p.log == nil {
		p.log = GetLogger()
	}
	p.log = p.log.With(logger.String("topic", cfg.Topic))

	opts := []worker.Option[Transcript]{worker.WithLogger[Transcript](p.log)}
	if cfg.PipelineMetrics != nil {
		opts = append(opts, worker.WithMetrics[Transcript](cfg.PipelineMetrics))
	}
	p.worker = worker.New("mqtt-publisher", worker.Hooks[Transcript]{
		OnItem: p.publish,
	}, opts...)
	return p, nil
}

// Start begins accepting transcripts.
func (p *Publisher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.ctx, p.cancel = ctx, cancel
	p.mu.Unlock()
	p.worker.Start()
}

// Stop publishes the backlog and waits for it. Publishes still waiting for
// the broker after ctx is done are abandoned.
func (p *Publisher) Stop(ctx context.Context) {
	p.worker.Stop()

	done := make(chan struct{})
	go func() {
		p.worker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		<-done
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

// SetLanguage changes the language reported with later transcripts.
func (p *Publisher) SetLanguage(lang string) {
	p.mu.Lock()
	p.language = lang
	p.mu.Unlock()
}

func (p *Publisher) OnPartial(recognizer.PartialResult) {}

// OnFinal queues res for publishing. Empty transcripts are skipped.
func (p *Publisher) OnFinal(res recognizer.FinalResult) {
	if res.Text == "" {
		return
	}
	p.mu.Lock()
	t := Transcript{Text: res.Text, Language: p.language, Time: p.now().UTC()}
	p.mu.Unlock()

	if !p.worker.Feed(t) {
		p.log.Debug("publisher not running, transcript dropped")
	}
}

func (p *Publisher) OnFinished() {}

func (p *Publisher) OnCrashed(err error) {
	p.log.Debug("recognition crashed, publishing stops until restart", logger.Error(err))
}

// publish never fails the run; a broker outage only loses the transcripts
// sent during it.
func (p *Publisher) publish(t Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		p.log.Error("failed to encode transcript", logger.Error(err))
		return nil
	}

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.client.Publish(ctx, p.topic, payload); err != nil {
		p.log.Warn("failed to publish transcript", logger.Error(err))
	}
	return nil
}
