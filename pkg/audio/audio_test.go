package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func pcmSilence(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(i%100)))
	}
	return out
}

func TestEncodePCM16ProducesWAV(t *testing.T) {
	riff, err := EncodePCM16(pcmSilence(16000), 16000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Sniff("", riff) != "audio/wav" {
		t.Fatalf("expected RIFF WAVE header")
	}
	d, err := WAVDuration(riff)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d != time.Second {
		t.Fatalf("expected 1s, got %s", d)
	}
}

func TestEncodePCM16RejectsOddLength(t *testing.T) {
	if _, err := EncodePCM16([]byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatalf("expected error for odd length")
	}
}

func TestSniff(t *testing.T) {
	cases := map[string]struct {
		name string
		data []byte
	}{
		"audio/ogg":  {"x", []byte("OggS\x00\x02")},
		"audio/flac": {"x", []byte("fLaC\x00")},
		"audio/webm": {"x", []byte{0x1A, 0x45, 0xDF, 0xA3, 0}},
		"audio/mpeg": {"x", []byte("ID3\x03")},
		MIMERawPCM:   {"talk.pcm", []byte{0, 1, 2, 3}},
	}
	for want, tc := range cases {
		if got := Sniff(tc.name, tc.data); got != want {
			t.Fatalf("%s: got %s", want, got)
		}
	}
}

func TestPrepareUploadWrapsRawPCM(t *testing.T) {
	f, err := PrepareUpload("meeting.pcm", pcmSilence(800), 8000, 1)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if f.Name != "meeting.wav" || f.MIME != "audio/wav" {
		t.Fatalf("unexpected file %s %s", f.Name, f.MIME)
	}
	passthrough, _ := PrepareUpload("clip.ogg", []byte("OggS...."), 0, 0)
	if passthrough.MIME != "audio/ogg" || string(passthrough.Data) != "OggS...." {
		t.Fatalf("expected passthrough for encoded audio")
	}
}
