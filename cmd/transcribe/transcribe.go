// Package transcribe implements the transcribe command, which recognizes a
// WAV file or raw 16-bit PCM from stdin.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/pipeline"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speech"
	"github.com/c43892/storyteller/internal/speechsource"
)

// Command creates the transcribe command.
func Command(settings *conf.Settings) *cobra.Command {
	var partials bool

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav|->",
		Short: "Transcribe a WAV file, or raw 16-bit mono PCM from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := pipeline.New(settings)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.LoadModel(ctx); err != nil {
				return err
			}
			return Run(ctx, p, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), partials)
		},
	}

	cmd.Flags().StringP("language", "l", "", "Recognition language, e.g. en-US")
	cmd.Flags().StringP("model", "m", "", "Model directory, bypasses the configured languages")
	cmd.Flags().Bool("realtime", false, "Feed the file at its natural pace")
	cmd.Flags().BoolVar(&partials, "partials", false, "Print partial results")
	if err := conf.MapFlags(cmd.Flags(), map[string]string{
		"recognition.language": "language",
		"models.modelpath":     "model",
		"audio.realtime":       "realtime",
	}); err != nil {
		panic(fmt.Sprintf("error mapping flags: %v", err))
	}

	return cmd
}

// Run transcribes input, "-" meaning stdin, until the audio ends. It returns
// the recognition error if the run crashes.
func Run(ctx context.Context, p *pipeline.Pipeline, input string, stdin io.Reader, out io.Writer, partials bool) error {
	src, err := openSource(p, input, stdin)
	if err != nil {
		return err
	}

	rec, err := p.NewRecognizer(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rec.Subscribe(speech.HandlerFuncs{
		Partial: func(res recognizer.PartialResult) {
			if partials {
				fmt.Fprintf(out, "... %s\n", res.Text)
			}
		},
		Final: func(res recognizer.FinalResult) {
			printFinal(out, res)
		},
		Finished: func() { cancel(nil) },
		Crashed:  func(err error) { cancel(err) },
	})

	if err := rec.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx, p.Settings.Recognition.TickInterval)
	})
	g.Go(func() error {
		return p.ServeMetrics(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	rec.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func openSource(p *pipeline.Pipeline, input string, stdin io.Reader) (speechsource.Source, error) {
	audio := p.Settings.Audio
	if input == "-" {
		return speechsource.NewStreamSource(stdin, speechsource.StreamConfig{
			SampleRate: audio.SampleRate,
			ChunkSize:  audio.ChunkSize,
			Pool:       p.Pool,
		})
	}
	return speechsource.OpenWAV(input, speechsource.ClipConfig{
		ChunkSize: audio.ChunkSize,
		Realtime:  audio.Realtime,
		Pool:      p.Pool,
	})
}

func printFinal(out io.Writer, res recognizer.FinalResult) {
	fmt.Fprintln(out, res.Text)
	for _, alt := range res.Alternatives {
		fmt.Fprintf(out, "  %.2f %s\n", alt.Confidence, alt.Text)
	}
}
