package speech

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/worker"
)

// Command binds spoken phrases to an action. Phrases are case-insensitive
// regular expressions, so "turn (on|off) the light" and "red|green" both work.
type Command struct {
	Name    string
	Phrases []string
	Action  func()
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}']+`)

// VoiceControl restricts a Recognizer to the words of its commands and runs
// a command's action when one of its phrases is recognized. Final transcripts
// are decoded on a background worker; actions run on the tick goroutine.
type VoiceControl struct {
	rec      *Recognizer
	commands []Command
	pattern  *regexp.Regexp
	// groups maps a command index to its subexpression in pattern.
	groups  []int
	grammar []string
	log     logger.Logger

	decoder *worker.Worker[string]
	actions *worker.Queue[Command]
	active  atomic.Bool

	// Text after the last match, owned by the decoder goroutine.
	undecoded string

	mu          sync.Mutex
	unsubscribe func()
}

// VoiceControlOption configures a VoiceControl.
type VoiceControlOption func(*VoiceControl, *[]worker.Option[string])

// WithVoiceControlLogger overrides the package logger.
func WithVoiceControlLogger(l logger.Logger) VoiceControlOption {
	return func(vc *VoiceControl, wopts *[]worker.Option[string]) {
		if l != nil {
			vc.log = l
			*wopts = append(*wopts, worker.WithLogger[string](l))
		}
	}
}

// WithVoiceControlMetrics reports decoder throughput.
func WithVoiceControlMetrics(m *metrics.PipelineMetrics) VoiceControlOption {
	return func(_ *VoiceControl, wopts *[]worker.Option[string]) {
		*wopts = append(*wopts, worker.WithMetrics[string](m))
	}
}

// NewVoiceControl compiles commands for use with rec.
func NewVoiceControl(rec *Recognizer, commands []Command, opts ...VoiceControlOption) (*VoiceControl, error) {
	if rec == nil {
		return nil, errors.Newf("voice control needs a recognizer").
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if len(commands) == 0 {
		return nil, errors.Newf("voice control needs at least one command").
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Build()
	}

	alternatives := make([]string, len(commands))
	var phrases []string
	for i, cmd := range commands {
		if len(cmd.Phrases) == 0 {
			return nil, errors.Newf("command %q has no phrases", cmd.Name).
				Component("speech").
				Category(errors.CategoryInvalidArgument).
				Context("command", cmd.Name).
				Build()
		}
		alternatives[i] = fmt.Sprintf("(?P<cmd%d>%s)", i, strings.Join(cmd.Phrases, "|"))
		phrases = append(phrases, cmd.Phrases...)
	}

	pattern, err := regexp.Compile("(?i)" + strings.Join(alternatives, "|"))
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Context("operation", "compile_commands").
			Build()
	}

	vc := &VoiceControl{
		rec:      rec,
		commands: commands,
		pattern:  pattern,
		groups:   make([]int, len(commands)),
		grammar:  grammarWords(phrases),
		log:      GetLogger(),
		actions:  worker.NewQueue[Command](),
	}
	for i := range commands {
		vc.groups[i] = pattern.SubexpIndex(fmt.Sprintf("cmd%d", i))
	}

	var wopts []worker.Option[string]
	for _, opt := range opts {
		opt(vc, &wopts)
	}
	vc.decoder = worker.New("voice-control", worker.Hooks[string]{
		OnStart: func() error {
			vc.undecoded = ""
			return nil
		},
		OnItem: func(text string) error {
			vc.decode(text)
			return nil
		},
	}, wopts...)

	return vc, nil
}

// grammarWords returns the distinct lowercase words of phrases followed by
// the unknown-word token.
func grammarWords(phrases []string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range nonWord.Split(strings.ToLower(strings.Join(phrases, " ")), -1) {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return append(words, recognizer.UnknownWord)
}

// Grammar returns the vocabulary installed on the recognizer by Start.
func (vc *VoiceControl) Grammar() []string {
	return append([]string(nil), vc.grammar...)
}

// Start installs the command grammar and starts recognition.
func (vc *VoiceControl) Start() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.unsubscribe == nil {
		vc.unsubscribe = vc.rec.Subscribe(vc)
	}
	vc.rec.SetVocabulary(vc.grammar)
	vc.rec.SetWords(false)

	if !vc.decoder.IsActive() {
		vc.decoder.Start()
	}

	if err := vc.rec.Start(); err != nil {
		vc.decoder.Stop()
		vc.decoder.Wait()
		return err
	}
	vc.active.Store(true)
	vc.log.Info("voice control started",
		logger.Int("commands", len(vc.commands)),
		logger.Int("grammar_words", len(vc.grammar)))
	return nil
}

// Stop stops recognition and discards actions that have not run yet.
func (vc *VoiceControl) Stop() {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vc.rec.Stop()
	vc.active.Store(false)
	vc.decoder.Stop()
	vc.decoder.Wait()
	for {
		if _, ok := vc.actions.TryPop(); !ok {
			break
		}
	}
	if vc.unsubscribe != nil {
		vc.unsubscribe()
		vc.unsubscribe = nil
	}
}

// Tick runs decoded actions. It is called by the Recognizer.
func (vc *VoiceControl) Tick() {
	for vc.active.Load() {
		cmd, ok := vc.actions.TryPop()
		if !ok {
			return
		}
		vc.log.Debug("voice command", logger.String("command", cmd.Name))
		if cmd.Action != nil {
			cmd.Action()
		}
	}
}

func (vc *VoiceControl) OnFinal(res recognizer.FinalResult) {
	vc.decoder.Feed(res.Text)
}

func (vc *VoiceControl) OnPartial(recognizer.PartialResult) {}

func (vc *VoiceControl) OnFinished() {}

func (vc *VoiceControl) OnCrashed(error) {}

// decode queues the command of every phrase found in text. The remainder
// after the last match is prepended to the next transcript so phrases split
// across utterances are still found.
func (vc *VoiceControl) decode(text string) {
	if text == "" {
		return
	}
	if vc.undecoded != "" {
		text = vc.undecoded + " " + text
	}

	last := 0
	for _, m := range vc.pattern.FindAllStringSubmatchIndex(text, -1) {
		last = m[1]
		for i, g := range vc.groups {
			if m[2*g] >= 0 {
				vc.actions.Push(vc.commands[i])
				break
			}
		}
	}
	vc.undecoded = strings.TrimSpace(text[last:])
}
