package audio

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/harunnryd/juru/pkg/adapters/stt"
)

// MIMERawPCM marks headerless 16-bit little-endian PCM.
const MIMERawPCM = "audio/l16"

const MIMEWAV = "audio/wav"

// Sniff guesses the MIME type of an audio payload from its magic bytes,
// falling back to the file extension.
func Sniff(name string, data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return MIMEWAV
	case bytes.HasPrefix(data, []byte("ID3")) || (len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0):
		return "audio/mpeg"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "audio/flac"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm"
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "audio/mp4"
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pcm", ".raw", ".l16":
		return MIMERawPCM
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// PrepareUpload builds the file submitted for transcription. Raw PCM is
// wrapped into WAV using sampleRate and channels.
func PrepareUpload(name string, data []byte, sampleRate, channels int) (stt.AudioFile, error) {
	mimeType := Sniff(name, data)
	if mimeType != MIMERawPCM {
		return stt.AudioFile{Name: name, MIME: mimeType, Data: data}, nil
	}
	riff, err := EncodePCM16(data, sampleRate, channels)
	if err != nil {
		return stt.AudioFile{}, err
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "audio"
	}
	return stt.AudioFile{Name: base + ".wav", MIME: MIMEWAV, Data: riff}, nil
}
