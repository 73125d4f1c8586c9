package frames

import (
	"testing"
	"time"
)

func TestAudioFrameDuration(t *testing.T) {
	pcm := NewAudioFrame("room", 1, make([]byte, 640), 16000, 1, nil)
	if pcm.Duration() != 20*time.Millisecond || pcm.Encoding() != "linear16" {
		t.Fatalf("unexpected pcm frame %v %s", pcm.Duration(), pcm.Encoding())
	}
	call := NewAudioFrame("CA1", 1, make([]byte, 160), 8000, 0, map[string]string{MetaEncoding: "mulaw"})
	if call.Duration() != 20*time.Millisecond || call.Channels() != 1 {
		t.Fatalf("unexpected mulaw frame %v ch=%d", call.Duration(), call.Channels())
	}
	if NewAudioFrame("x", 1, []byte{1, 2}, 0, 1, nil).Duration() != 0 {
		t.Fatalf("unknown rate must give zero duration")
	}
}

func TestMetaIsCopied(t *testing.T) {
	in := map[string]string{MetaSource: "browser"}
	f := NewTextFrame("room", 5, "halo", true, in)
	in[MetaSource] = "phone"
	m := f.Meta()
	m[MetaSource] = "cli"
	if f.Meta()[MetaSource] != "browser" || f.StreamID() != "room" || f.Meta()[MetaIsFinal] != "true" {
		t.Fatalf("frame metadata leaked: %v", f.Meta())
	}
	e := NewErrorFrame("room", 6, "network", "socket closed")
	if e.Code() != ControlError || e.ErrorCode() != "network" || e.ErrorMessage() != "socket closed" || e.PTS() != 6 {
		t.Fatalf("unexpected error frame %v", e.Meta())
	}
}
