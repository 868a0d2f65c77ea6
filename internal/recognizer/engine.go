package recognizer

// EngineConfig parameterizes one engine instance.
type EngineConfig struct {
	SampleRate int
	// Vocabulary is a JSON array of lowercase words or phrases restricting the
	// output, optionally containing UnknownWord. Empty means open vocabulary.
	Vocabulary string
	// Words enables per-word details in final results.
	Words bool
	// MaxAlternatives enables multi-alternative output when positive.
	MaxAlternatives int
}

// Model is a loaded language model that can build engines. A model may back
// several engines and must outlive all of them.
type Model interface {
	NewEngine(cfg EngineConfig) (Engine, error)
	Close() error
}

// Engine is one recognition run over a stream of 16-bit mono samples.
// Result, PartialResult and FinalResult return the engine's JSON payloads.
// Engines are not safe for concurrent use.
type Engine interface {
	// AcceptWaveform feeds samples and reports whether an utterance boundary
	// was reached.
	AcceptWaveform(samples []int16) (bool, error)
	PartialResult() string
	Result() string
	FinalResult() string
	Close() error
}

// Loader opens a model from a directory on disk.
type Loader func(path string) (Model, error)
