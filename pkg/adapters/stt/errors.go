package stt

import "errors"

// ErrAudioUnsupported is returned by backends that do not accept audio.
var ErrAudioUnsupported = errors.New("stt: backend does not accept audio")
