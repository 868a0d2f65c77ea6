package recognizer

// Result is either a PartialResult or a FinalResult.
type Result interface {
	// Kind returns "partial" or "final".
	Kind() string
	// Transcript returns the decoded text.
	Transcript() string
}

// PartialResult is a tentative transcript that may be superseded by later
// partials until the utterance is finalized.
type PartialResult struct {
	Text string `json:"partial"`
}

// Word describes one decoded word when word details are enabled.
type Word struct {
	Word  string  `json:"word"`
	Conf  float64 `json:"conf"`  // zero to one
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Alternative is one candidate transcript in multi-alternative mode.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"result,omitempty"`
}

// FinalResult is the stable transcript of a completed utterance.
type FinalResult struct {
	Text  string `json:"text"`
	Words []Word `json:"result,omitempty"`
	// Alternatives are sorted by descending confidence and only populated when
	// MaxAlternatives is positive.
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

func (PartialResult) Kind() string { return "partial" }

func (r PartialResult) Transcript() string { return r.Text }

func (FinalResult) Kind() string { return "final" }

func (r FinalResult) Transcript() string { return r.Text }
