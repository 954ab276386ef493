package translate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"inkwell/annotations"
	"inkwell/ident"
	"inkwell/storage"
)

// Request is one paragraph translation request. Context carries the tail
// of the preceding text so the translator can resolve pronouns and keep
// terminology stable across paragraphs.
type Request struct {
	Text       string
	Context    string
	SourceLang string
	TargetLang string
}

// Translator produces a translation for a single request. Implementations
// wrap whatever service the user configured.
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// Service coordinates paragraph translation: context assembly, the remote
// call, and fanning the outcome into the in-memory store and persistent
// storage. Failures are recorded the same way successes are, so a
// paragraph that failed once is not retried on every repaint.
type Service struct {
	tr       Translator
	mem      *annotations.Store
	db       *storage.Store
	splitter *Splitter
	ctxSents int
	source   string
	target   string
	log      *zap.Logger
}

// NewService creates a translation service for one open book.
func NewService(tr Translator, mem *annotations.Store, db *storage.Store, splitter *Splitter, ctxSentences int, source, target string, log *zap.Logger) *Service {
	return &Service{
		tr:       tr,
		mem:      mem,
		db:       db,
		splitter: splitter,
		ctxSents: ctxSentences,
		source:   source,
		target:   target,
		log:      log.Named("translate"),
	}
}

// Translate translates one paragraph. preceding is the text flowing into
// the paragraph, used for context only. An outcome already in the store
// short-circuits the call, use Retry to force a fresh attempt.
func (s *Service) Translate(ctx context.Context, bookID, text, preceding string) (annotations.Translation, error) {
	hash := ident.Hash(text)
	key := ident.Key(bookID, hash)

	if t, ok := s.mem.Translation(key); ok {
		return t, nil
	}

	return s.translate(ctx, bookID, hash, text, preceding)
}

// Retry drops any stored outcome for the paragraph and translates it
// again.
func (s *Service) Retry(ctx context.Context, bookID, text, preceding string) (annotations.Translation, error) {
	hash := ident.Hash(text)
	key := ident.Key(bookID, hash)

	s.mem.DeleteTranslation(key)
	if s.db != nil {
		if err := s.db.DeleteTranslation(key); err != nil {
			s.log.Warn("Unable to drop stored translation", zap.String("key", key), zap.Error(err))
		}
	}
	return s.translate(ctx, bookID, hash, text, preceding)
}

func (s *Service) translate(ctx context.Context, bookID, hash, text, preceding string) (annotations.Translation, error) {
	req := Request{
		Text:       text,
		Context:    s.splitter.Tail(preceding, s.ctxSents),
		SourceLang: s.source,
		TargetLang: s.target,
	}

	t := annotations.Translation{BookID: bookID, Hash: hash, OriginalText: text}
	translated, err := s.tr.Translate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// cancellation is not an outcome, nothing is recorded
			return t, ctx.Err()
		}
		t.Error = err.Error()
		s.log.Warn("Translation failed", zap.String("hash", hash), zap.Error(err))
	} else {
		t.TranslatedText = strings.TrimSpace(translated)
	}

	s.mem.SetTranslation(t)
	if s.db != nil {
		if err := s.db.PutTranslation(t); err != nil {
			s.log.Warn("Unable to persist translation", zap.String("hash", hash), zap.Error(err))
		}
	}
	return t, nil
}
