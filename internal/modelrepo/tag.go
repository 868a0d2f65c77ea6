package modelrepo

import (
	"encoding/json"
	"time"

	"golang.org/x/text/language"

	"github.com/c43892/storyteller/internal/errors"
)

// ModelTag fingerprints the source an installed model was extracted from.
// The modification time is a freshness heuristic, not an integrity check.
type ModelTag struct {
	Language     language.Tag
	LastModified time.Time
}

type tagJSON struct {
	Language     string `json:"language"`
	LastModified int64  `json:"lastWriteTime"` // unix milliseconds
}

// NewModelTag builds a tag, truncating mtime to millisecond precision so the
// tag survives a round trip through its string form.
func NewModelTag(lang language.Tag, mtime time.Time) ModelTag {
	return ModelTag{Language: lang, LastModified: time.UnixMilli(mtime.UnixMilli())}
}

// String renders the tag in the form stored in ModelInfo.Tag.
func (t ModelTag) String() string {
	out, _ := json.Marshal(tagJSON{
		Language:     t.Language.String(),
		LastModified: t.LastModified.UnixMilli(),
	})
	return string(out)
}

// Equal reports whether both tags name the same language and source mtime.
func (t ModelTag) Equal(other ModelTag) bool {
	return t.Language == other.Language && t.LastModified.Equal(other.LastModified)
}

// ParseModelTag parses the String form of a tag.
func ParseModelTag(s string) (ModelTag, error) {
	var raw tagJSON
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return ModelTag{}, errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			Context("tag", s).
			Build()
	}

	lang, err := language.Parse(raw.Language)
	if err != nil {
		return ModelTag{}, errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			Context("language", raw.Language).
			Build()
	}

	return ModelTag{Language: lang, LastModified: time.UnixMilli(raw.LastModified)}, nil
}
