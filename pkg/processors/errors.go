package processors

import "errors"

var (
	errEmptyResponse = errors.New("remote returned empty text")
	errStale         = errors.New("result discarded after the transcript was reset")

	// ErrNothingToTranslate is returned by Optimize when no untranslated
	// text remains.
	ErrNothingToTranslate = errors.New("nothing to translate")
	// ErrSourceChanged is returned by Optimize when the submitted text was
	// rewritten across its boundaries before the result arrived.
	ErrSourceChanged = errors.New("source changed during batch translation")
)
