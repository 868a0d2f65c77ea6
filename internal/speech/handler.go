package speech

import "github.com/c43892/storyteller/internal/recognizer"

// Handler receives the output of a Recognizer. Methods are called from the
// goroutine running Tick. A run ends with exactly one of OnFinished or
// OnCrashed, unless it is stopped first.
type Handler interface {
	OnPartial(res recognizer.PartialResult)
	OnFinal(res recognizer.FinalResult)
	OnFinished()
	OnCrashed(err error)
}

// Ticker is implemented by handlers that do deferred work on the tick
// goroutine. Tick is called on every Recognizer tick, recognizing or not.
type Ticker interface {
	Tick()
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Partial  func(res recognizer.PartialResult)
	Final    func(res recognizer.FinalResult)
	Finished func()
	Crashed  func(err error)
}

func (h HandlerFuncs) OnPartial(res recognizer.PartialResult) {
	if h.Partial != nil {
		h.Partial(res)
	}
}

func (h HandlerFuncs) OnFinal(res recognizer.FinalResult) {
	if h.Final != nil {
		h.Final(res)
	}
}

func (h HandlerFuncs) OnFinished() {
	if h.Finished != nil {
		h.Finished()
	}
}

func (h HandlerFuncs) OnCrashed(err error) {
	if h.Crashed != nil {
		h.Crashed(err)
	}
}
