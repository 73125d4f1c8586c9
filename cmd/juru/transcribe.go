package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harunnryd/juru/pkg/export"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/store/sqlite"
)

var (
	transcribeTitle   string
	transcribeTarget  string
	transcribeOutput  string
	transcribeSave    bool
	transcribeRefineW time.Duration
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file]",
	Short: "Transcribe, refine and translate a recording",
	Long: `Transcribes an audio file with vendors.transcriber, lets the refinement
stage polish the transcript, translates everything in one batch request and
prints the result as Markdown.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeTitle, "title", "t", "", "Document title (default: session.title)")
	transcribeCmd.Flags().StringVar(&transcribeTarget, "target", "", "Target language (default: session.target_language)")
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "", "Write the Markdown to this file instead of stdout")
	transcribeCmd.Flags().BoolVar(&transcribeSave, "save", false, "Save the session to the store")
	transcribeCmd.Flags().DurationVar(&transcribeRefineW, "refine-timeout", time.Minute, "How long to wait for refinement before translating")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Vendors.Transcriber.Provider) == "" {
		return errors.New("vendors.transcriber is not configured")
	}
	if transcribeTarget != "" {
		cfg.Session.TargetLanguage = transcribeTarget
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	app, err := newEngine(cfg, stderrLogger(cfg), false, false, nil)
	if err != nil {
		return err
	}
	defer app.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess, err := app.Session(uuid.NewString(), pipeline.OriginCLI)
	if err != nil {
		return err
	}
	if err := sess.TranscribeFile(ctx, filepath.Base(path), data); err != nil {
		return err
	}
	waitRefined(ctx, sess, cfg.Timing.RefineSlowGate, transcribeRefineW)
	// A refinement landing mid-batch can rewrite the submitted text; the
	// batch is then simply sent again.
	for attempt := 1; ; attempt++ {
		err := sess.Optimize(ctx)
		if errors.Is(err, processors.ErrSourceChanged) && attempt < 3 {
			continue
		}
		if err != nil && !errors.Is(err, processors.ErrNothingToTranslate) {
			return fmt.Errorf("translate: %w", err)
		}
		break
	}

	title := transcribeTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	doc, err := sess.Document(ctx, title)
	if err != nil {
		return err
	}
	md, err := export.RenderMarkdown(doc)
	if err != nil {
		return err
	}

	if transcribeSave {
		if app.Store() == nil {
			return errors.New("--save needs store.path in the config")
		}
		rec, err := sqlite.RecordOf(ctx, sess, title)
		if err != nil {
			return err
		}
		if _, err := app.Store().Save(ctx, rec); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		cmd.PrintErrf("saved session %s\n", rec.ID)
	}
	return writeOutput(cmd.OutOrStdout(), transcribeOutput, md)
}

// waitRefined returns once the unrefined tail is below the refinement gate,
// or after timeout.
func waitRefined(ctx context.Context, sess *pipeline.Session, gate int, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := sess.Status(ctx)
		if err != nil {
			return
		}
		tail := strings.TrimSpace(st.Source[min(st.Refined, len(st.Source)):])
		if utf8.RuneCountInString(tail) < gate {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeOutput(stdout io.Writer, path, content string) error {
	if path == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
