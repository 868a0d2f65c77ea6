// Package listen implements the listen command: live recognition from a
// capture device with optional voice commands, MQTT publishing and metrics.
package listen

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/mqtt"
	"github.com/c43892/storyteller/internal/pipeline"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speech"
	"github.com/c43892/storyteller/internal/speechsource"
)

const publisherDrainTimeout = 5 * time.Second

// Options selects the optional consumers of a listen run.
type Options struct {
	Out       io.Writer
	Commands  []CommandSpec
	Publisher *mqtt.Publisher
}

func getLogger() logger.Logger {
	return logger.Global().Module("listen")
}

// Command creates the listen command.
func Command(settings *conf.Settings) *cobra.Command {
	var commandsPath string
	var listDevices bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Recognize speech from the microphone until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listDevices {
				return printDevices(cmd.OutOrStdout())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := Options{Out: cmd.OutOrStdout()}
			if commandsPath != "" {
				specs, err := LoadCommands(commandsPath)
				if err != nil {
					return err
				}
				opts.Commands = specs
			}

			p, err := pipeline.New(settings)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.LoadModel(ctx); err != nil {
				return err
			}

			if settings.MQTT.Enabled {
				client, publisher, err := connectPublisher(ctx, p)
				if err != nil {
					return err
				}
				defer client.Disconnect()
				publisher.Start()
				defer func() {
					drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publisherDrainTimeout)
					defer cancel()
					publisher.Stop(drainCtx)
				}()
				opts.Publisher = publisher
			}

			audio := settings.Audio
			mic := speechsource.NewMicrophoneSource(speechsource.MicrophoneConfig{
				Device:          audio.Device,
				SampleRate:      audio.SampleRate,
				TimeSensitivity: audio.TimeSensitivity,
				Pool:            p.Pool,
			})
			if err := mic.StartMicrophone(); err != nil {
				return err
			}
			defer mic.StopMicrophone()

			return Run(ctx, p, mic, opts)
		},
	}

	cmd.Flags().StringVar(&commandsPath, "commands", "", "YAML file with voice commands")
	cmd.Flags().BoolVar(&listDevices, "list-devices", false, "List capture devices and exit")
	cmd.Flags().StringP("language", "l", "", "Recognition language, e.g. en-US")
	cmd.Flags().StringP("model", "m", "", "Model directory, bypasses the configured languages")
	cmd.Flags().String("device", "", "Capture device name filter")
	cmd.Flags().Bool("mqtt", false, "Publish final transcripts to MQTT")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics")
	if err := conf.MapFlags(cmd.Flags(), map[string]string{
		"recognition.language": "language",
		"models.modelpath":     "model",
		"audio.device":         "device",
		"mqtt.enabled":         "mqtt",
		"metrics.enabled":      "metrics",
	}); err != nil {
		panic(fmt.Sprintf("error mapping flags: %v", err))
	}

	return cmd
}

// Run recognizes src until ctx is done or src dries up, printing finals to
// opts.Out and feeding the optional consumers.
func Run(ctx context.Context, p *pipeline.Pipeline, src speechsource.Source, opts Options) error {
	log := getLogger()
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	rec, err := p.NewRecognizer(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rec.Subscribe(speech.HandlerFuncs{
		Final: func(res recognizer.FinalResult) {
			fmt.Fprintln(out, res.Text)
		},
		Finished: func() { cancel(nil) },
		Crashed:  func(err error) { cancel(err) },
	})
	if opts.Publisher != nil {
		rec.Subscribe(opts.Publisher)
	}

	activity := speech.NewActivityDetector(rec,
		func() { log.Info("speech started") },
		func() { log.Info("speech stopped") })
	activity.Attach()

	var vc *speech.VoiceControl
	if len(opts.Commands) > 0 {
		commands := make([]speech.Command, 0, len(opts.Commands))
		for _, spec := range opts.Commands {
			name := spec.Name
			commands = append(commands, speech.Command{
				Name:    name,
				Phrases: spec.Phrases,
				Action: func() {
					log.Info("voice command", logger.String("command", name))
					fmt.Fprintf(out, "command: %s\n", name)
				},
			})
		}
		if vc, err = speech.NewVoiceControl(rec, commands,
			speech.WithVoiceControlMetrics(p.Metrics.Pipeline)); err != nil {
			return err
		}
		err = vc.Start()
	} else {
		err = rec.Start()
	}
	if err != nil {
		return err
	}

	log.Info("listening", logger.String("language", p.Language()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx, p.Settings.Recognition.TickInterval)
	})
	g.Go(func() error {
		return p.ServeMetrics(gctx)
	})
	runErr := g.Wait()

	if vc != nil {
		vc.Stop()
	}
	activity.Stop()
	rec.Wait()

	if runErr != nil {
		return runErr
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func connectPublisher(ctx context.Context, p *pipeline.Pipeline) (mqtt.Client, *mqtt.Publisher, error) {
	s := p.Settings.MQTT
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Topic = s.Topic
	cfg.Retain = s.Retain

	client, err := mqtt.NewClient(cfg, p.Metrics.MQTT)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	publisher, err := mqtt.NewPublisher(client, mqtt.PublisherConfig{
		Topic:           s.Topic,
		Language:        p.Language(),
		PipelineMetrics: p.Metrics.Pipeline,
	})
	if err != nil {
		client.Disconnect()
		return nil, nil, err
	}
	return client, publisher, nil
}

func printDevices(out io.Writer) error {
	devices, err := speechsource.ListDevices()
	if err != nil {
		return err
	}
	for _, name := range devices {
		fmt.Fprintln(out, name)
	}
	return nil
}
