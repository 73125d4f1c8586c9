package processors

import (
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/redact"
)

type IngestConfig struct {
	// SilenceCommit is how long the stream must go without a pending
	// interim fragment before the tail is closed into a paragraph.
	SilenceCommit time.Duration
}

// Ingest feeds recognizer output into the source buffer.
type Ingest struct {
	env     Env
	cfg     IngestConfig
	active  func() bool
	silence StageState
	logger  *slog.Logger
}

// NewIngest builds the ingest stage. active reports whether the recognizer
// is recording; silence commits only happen while it is.
func NewIngest(env Env, cfg IngestConfig, active func() bool) *Ingest {
	env = env.withDefaults()
	if cfg.SilenceCommit <= 0 {
		cfg.SilenceCommit = 1200 * time.Millisecond
	}
	if active == nil {
		active = func() bool { return true }
	}
	return &Ingest{
		env:    env,
		cfg:    cfg,
		active: active,
		logger: logging.NewComponentLogger(env.Logger, "ingest"),
	}
}

func (i *Ingest) Name() string { return "ingest" }

// HandleText applies a recognition result. Finals are segmented and
// appended; interims replace the in-flight fragment.
func (i *Ingest) HandleText(f frames.TextFrame) {
	if f.Final() {
		n := i.env.Buffer.AppendFinal(f.Text())
		i.logger.Debug("final_ingested",
			slog.String("stream_id", i.env.StreamID),
			slog.Int("units", n),
			slog.String("text", redact.Preview(f.Text(), 80)))
	} else {
		i.env.Buffer.SetInterim(f.Text())
	}
	i.armSilence()
}

// armSilence restarts the silence countdown, or cancels it while an interim
// fragment is pending.
func (i *Ingest) armSilence() {
	if strings.TrimSpace(i.env.Buffer.Interim()) != "" {
		i.silence.CancelTimer()
		return
	}
	i.silence.Reschedule(i.env.Sched, i.cfg.SilenceCommit, i.commit)
}

func (i *Ingest) commit() {
	if !i.active() || strings.TrimSpace(i.env.Buffer.Interim()) != "" {
		return
	}
	if i.env.Buffer.CommitSilence() {
		i.env.record(metrics.EventSilenceCommit, float64(i.env.Buffer.Len()), nil)
		i.logger.Debug("silence_commit", slog.String("stream_id", i.env.StreamID))
	}
}

// Stop cancels a pending silence commit.
func (i *Ingest) Stop() { i.silence.CancelTimer() }
