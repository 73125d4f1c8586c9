package recognition

import (
	"fmt"
	"strings"

	"github.com/harunnryd/juru/pkg/errorsx"
)

// Code is a categorical recognition error.
type Code string

const (
	CodeNoSpeech     Code = "no-speech"
	CodeAudioCapture Code = "audio-capture"
	CodeNotAllowed   Code = "not-allowed"
	CodeNetwork      Code = "network"
	CodeNotSupported Code = "not-supported"
	CodeAborted      Code = "aborted"
	CodeUnknown      Code = "unknown"
)

// ParseCode normalizes a backend error code; unrecognized values map to
// CodeUnknown.
func ParseCode(s string) Code {
	switch c := Code(strings.ToLower(strings.TrimSpace(s))); c {
	case CodeNoSpeech, CodeAudioCapture, CodeNotAllowed, CodeNetwork, CodeNotSupported, CodeAborted:
		return c
	default:
		return CodeUnknown
	}
}

// Transient reports whether the recognizer may be restarted automatically.
func (c Code) Transient() bool {
	return c != CodeNotAllowed && c != CodeNotSupported
}

// Failure is a user-facing description of a recognition error.
type Failure struct {
	Code    Code
	Message string
	Hint    string
}

func (f Failure) Error() string {
	return fmt.Sprintf("recognition %s: %s", f.Code, f.Message)
}

// Reason maps the failure onto the error taxonomy.
func (f Failure) Reason() errorsx.ReasonCode {
	if f.Code.Transient() {
		return errorsx.ReasonRecognitionTransient
	}
	return errorsx.ReasonRecognitionFatal
}

// Describe returns the message and recovery hint shown for code.
func Describe(code Code) Failure {
	switch code {
	case CodeNoSpeech:
		return Failure{code, "No speech was detected.", "Move closer to the microphone or speak louder."}
	case CodeAudioCapture:
		return Failure{code, "The microphone could not be captured.", "Check that a microphone is connected and not used by another application."}
	case CodeNotAllowed:
		return Failure{code, "Microphone access was denied.", "Allow microphone access for this page and start recording again."}
	case CodeNetwork:
		return Failure{code, "The speech service could not be reached.", "Check the network connection. Recording restarts automatically."}
	case CodeNotSupported:
		return Failure{code, "Speech recognition is not supported here.", "Use a browser or backend that supports streaming recognition."}
	case CodeAborted:
		return Failure{code, "Recognition was aborted.", "Start recording again if it does not resume."}
	default:
		return Failure{CodeUnknown, "An unknown recognition error occurred.", "Stop and start recording again."}
	}
}
