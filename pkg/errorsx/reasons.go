package errorsx

// ReasonCode is a short machine-readable error reason. It is also an error
// so it can be the target of errors.Is.
type ReasonCode string

func (r ReasonCode) Error() string { return string(r) }

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonRecognitionTransient ReasonCode = "recognition_transient"
	ReasonRecognitionFatal     ReasonCode = "recognition_fatal"
	ReasonRecognizerStart      ReasonCode = "recognizer_start"

	ReasonRemoteRateLimited ReasonCode = "remote_rate_limited"
	ReasonRemoteTransient   ReasonCode = "remote_transient"
	ReasonRemoteFatal       ReasonCode = "remote_fatal"
	ReasonRemoteEmpty       ReasonCode = "remote_empty"

	ReasonTranscribe   ReasonCode = "transcribe"
	ReasonAudioInvalid ReasonCode = "audio_invalid"

	ReasonStoreOpen ReasonCode = "store_open"
	ReasonStoreSave ReasonCode = "store_save"
	ReasonStoreLoad ReasonCode = "store_load"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
