package recognizer

import (
	"github.com/antonholmquist/jason"

	"github.com/c43892/storyteller/internal/errors"
)

// UnknownWord is the vocabulary token that lets the engine emit words outside
// a restricted vocabulary.
const UnknownWord = "[unk]"

func decodePartial(raw string) (PartialResult, error) {
	obj, err := jason.NewObjectFromBytes([]byte(raw))
	if err != nil {
		return PartialResult{}, decodeError(err, raw, "partial")
	}
	// A missing key means the engine has nothing decoded yet.
	text, _ := obj.GetString("partial")
	return PartialResult{Text: text}, nil
}

// decodeFinal parses a Result or FinalResult payload. In multi-alternative
// mode the engine omits "text" and the top alternative becomes the transcript.
func decodeFinal(raw string) (FinalResult, error) {
	obj, err := jason.NewObjectFromBytes([]byte(raw))
	if err != nil {
		return FinalResult{}, decodeError(err, raw, "final")
	}

	var res FinalResult
	res.Text, _ = obj.GetString("text")

	if words, err := obj.GetObjectArray("result"); err == nil {
		res.Words = decodeWords(words)
	}

	if alts, err := obj.GetObjectArray("alternatives"); err == nil {
		res.Alternatives = make([]Alternative, 0, len(alts))
		for _, a := range alts {
			var alt Alternative
			alt.Text, _ = a.GetString("text")
			alt.Confidence, _ = a.GetFloat64("confidence")
			if words, err := a.GetObjectArray("result"); err == nil {
				alt.Words = decodeWords(words)
			}
			res.Alternatives = append(res.Alternatives, alt)
		}
		if len(res.Alternatives) > 0 {
			res.Text = res.Alternatives[0].Text
		}
	}

	return res, nil
}

func decodeWords(objs []*jason.Object) []Word {
	words := make([]Word, 0, len(objs))
	for _, o := range objs {
		var w Word
		w.Word, _ = o.GetString("word")
		w.Conf, _ = o.GetFloat64("conf")
		w.Start, _ = o.GetFloat64("start")
		w.End, _ = o.GetFloat64("end")
		words = append(words, w)
	}
	return words
}

func decodeError(err error, raw, kind string) error {
	preview := raw
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return errors.New(err).
		Component("recognizer").
		Category(errors.CategoryEngineFailure).
		Context("result_kind", kind).
		Context("payload_preview", preview).
		Build()
}
