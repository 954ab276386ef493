package translate

import (
	"strings"
	"unicode"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Splitter breaks text into sentences for context extraction. A nil
// splitter treats the whole input as one sentence.
type Splitter struct {
	*sentences.DefaultSentenceTokenizer
}

// NewSplitter creates a sentence splitter for the given language. Only
// English currently has a trained model, other languages fall back to
// whole-text splitting which is good enough for short paragraph contexts
// in CJK scripts where the model would not help anyway.
func NewSplitter(lang language.Tag, log *zap.Logger) *Splitter {
	base, _ := lang.Base()
	if base.String() != "en" {
		log.Debug("No sentence model for language, using whole-text context", zap.Stringer("tag", lang))
		return nil
	}
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		log.Warn("Unable to load sentence tokenizer", zap.Stringer("tag", lang), zap.Error(err))
		return nil
	}
	return &Splitter{tokenizer}
}

// Split returns the sentences of in. Trailing spaces the tokenizer leaves
// on the next sentence are moved back where they belong.
func (s *Splitter) Split(in string) []string {
	var out []string
	if s == nil {
		return append(out, in)
	}

	for _, sentence := range s.Tokenize(in) {
		out = append(out, sentence.Text)
	}
	for i := range len(out) - 1 {
		for idx, sym := range out[i+1] {
			if !unicode.IsSpace(sym) {
				out[i] = out[i] + out[i+1][0:idx]
				out[i+1] = out[i+1][idx:]
				break
			}
		}
	}
	return out
}

// Tail returns the last n sentences of in joined back together, the whole
// input when it has fewer.
func (s *Splitter) Tail(in string, n int) string {
	if n <= 0 || in == "" {
		return ""
	}
	parts := s.Split(in)
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, " ")
}
