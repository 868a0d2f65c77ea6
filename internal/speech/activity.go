package speech

import (
	"sync"

	"github.com/c43892/storyteller/internal/recognizer"
)

// ActivityDetector reports when speech starts and stops, based on whether
// partial results carry text. It turns empty partials on for its recognizer.
type ActivityDetector struct {
	rec        *Recognizer
	onSpoke    func()
	onSilenced func()

	mu          sync.Mutex
	unsubscribe func()
	// Touched only from the tick goroutine.
	speaking bool
}

// NewActivityDetector creates a detector; nil callbacks are skipped.
func NewActivityDetector(rec *Recognizer, onSpoke, onSilenced func()) *ActivityDetector {
	return &ActivityDetector{rec: rec, onSpoke: onSpoke, onSilenced: onSilenced}
}

// Attach subscribes to the recognizer without starting it, for sharing a
// recognizer with other consumers.
func (d *ActivityDetector) Attach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.SetAllowEmptyPartials(true)
	if d.unsubscribe == nil {
		d.unsubscribe = d.rec.Subscribe(HandlerFuncs{Partial: d.onPartial})
	}
}

// Start attaches and starts recognition.
func (d *ActivityDetector) Start() error {
	d.Attach()
	return d.rec.Start()
}

// Stop stops recognition and detaches.
func (d *ActivityDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Stop()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

func (d *ActivityDetector) onPartial(res recognizer.PartialResult) {
	speaking := res.Text != ""
	if speaking == d.speaking {
		return
	}
	d.speaking = speaking
	switch {
	case speaking && d.onSpoke != nil:
		d.onSpoke()
	case !speaking && d.onSilenced != nil:
		d.onSilenced()
	}
}
