package metrics

// Event names emitted by the pipeline and its adapters.
const (
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"

	EventRecognizerState   = "recognizer_state"
	EventRecognizerRestart = "recognizer_restart"
	EventRecognizerError   = "recognizer_error"

	EventVelocitySample = "velocity_sample"
	EventSilenceCommit  = "silence_commit"

	EventRefineRequest = "refine_request"
	EventRefineDone    = "refine_done"
	EventRefineSkipped = "refine_skipped"
	EventRefineFailed  = "refine_failed"

	EventTranslateRequest = "translate_request"
	EventTranslateDone    = "translate_done"
	EventTranslateFailed  = "translate_failed"
	EventTranslateSkipped = "translate_skipped"

	EventTranscribeDone = "transcribe_done"
)
