package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rojolang/interview-live-go/pkg/live"
	"github.com/rojolang/interview-live-go/pkg/live/audiodev"
)

type sessionOptions struct {
	sessionID       string
	instruction     string
	instructionFile string
	voice           string
	model           string
	greeting        string
	recordDir       string
	noSpeaker       bool
	backend         string
	inputDevice     string
	outputDevice    int
	encoding        string
	metricsAddr     string
	transcriptOut   string
}

func sessionCmd() *cobra.Command {
	var opts sessionOptions

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run an interview session",
		Long: "Stream the microphone to the interviewer and play its replies until Ctrl-C. " +
			"The final transcript is printed as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.encoding != "" {
				cfg.CaptureEncoding = opts.encoding
			}
			return runSession(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.sessionID, "session-id", "", "Session id sent to the token endpoint (random when empty)")
	f.StringVar(&opts.instruction, "instruction", "", "System instruction for the interviewer")
	f.StringVar(&opts.instructionFile, "instruction-file", "", "Read the system instruction from a file")
	f.StringVar(&opts.voice, "voice", "", "Prebuilt voice name")
	f.StringVar(&opts.model, "model", "", "Model override")
	f.StringVar(&opts.greeting, "greeting", "", "User turn sent after setup so the interviewer speaks first")
	f.StringVar(&opts.recordDir, "record-dir", "", "Save every played reply as a WAV file in this directory")
	f.BoolVar(&opts.noSpeaker, "no-speaker", false, "Do not play replies")
	f.StringVar(&opts.backend, "backend", audiodev.BackendPortAudio, "Capture backend: portaudio or pulse")
	f.StringVar(&opts.inputDevice, "device", "default", "Input device id or name fragment")
	f.IntVar(&opts.outputDevice, "output-device", -1, "PortAudio output device index (-1 for default)")
	f.StringVar(&opts.encoding, "encoding", "", "Capture encoding: auto, opus, wav or pcm")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.transcriptOut, "transcript-out", "", "Also write the final transcript JSON to this file")

	return cmd
}

func (o sessionOptions) sessionConfig() (live.SessionConfig, error) {
	instruction := o.instruction
	if o.instructionFile != "" {
		data, err := os.ReadFile(o.instructionFile)
		if err != nil {
			return live.SessionConfig{}, fmt.Errorf("read instruction file: %w", err)
		}
		instruction = strings.TrimSpace(string(data))
	}
	return live.SessionConfig{
		SessionID:         o.sessionID,
		SystemInstruction: instruction,
		Voice:             o.voice,
		Model:             o.model,
		Greeting:          o.greeting,
	}, nil
}

// captureDevice resolves the input for the chosen backend.
func (o sessionOptions) captureDevice(ctx context.Context) (live.CaptureDevice, error) {
	devices, err := audiodev.List(ctx, o.backend)
	if err != nil {
		return nil, err
	}
	var inputs []audiodev.Device
	for _, d := range devices {
		if d.IsInput() {
			inputs = append(inputs, d)
		}
	}

	selected, err := audiodev.FindDevice(inputs, o.inputDevice)
	if err != nil {
		// The backend falls back to its own default.
		if o.inputDevice != "" && o.inputDevice != "default" {
			return nil, err
		}
		selected = audiodev.Device{Index: -1}
	}

	if o.backend == audiodev.BackendPulse {
		return audiodev.NewPulseDevice(selected.ID), nil
	}
	return audiodev.NewPortAudioDevice(selected.Index), nil
}

func runSession(ctx context.Context, cfg *live.ClientConfig, opts sessionOptions, out io.Writer) error {
	session, err := opts.sessionConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := opts.captureDevice(ctx)
	if err != nil {
		return err
	}

	var sink live.AudioSink = live.NewNullSink()
	if !opts.noSpeaker {
		speaker := audiodev.NewSpeaker(opts.outputDevice).WithLogger(cfg.Logger)
		defer speaker.Close()
		sink = speaker
	}
	if opts.recordDir != "" {
		rec, err := live.NewRecordingSink(opts.recordDir, sink, cfg.Logger)
		if err != nil {
			return err
		}
		sink = rec
	}

	registry := prometheus.NewRegistry()
	client, err := live.NewSessionClient(cfg, live.Dependencies{
		Capture:    capture,
		Encoders:   audiodev.EncoderLadder(cfg.CaptureEncoding),
		Sink:       sink,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	failed := make(chan struct{})
	var failOnce sync.Once

	client.OnStateChange(live.CreateLoggingStateHandler(cfg.Logger))
	client.OnStateChange(func(s live.ConnectionState) {
		if s == live.Failed {
			failOnce.Do(func() { close(failed) })
		}
	})
	client.OnError(live.CreateErrorLoggingHandler(cfg.Logger))
	client.OnError(func(e *live.LiveError) {
		fmt.Fprintf(os.Stderr, "\n%s\n", e.UserMessage())
	})
	client.OnReady(func() { fmt.Fprintln(os.Stderr, "Connected. Speak when ready; Ctrl-C ends the interview.") })
	client.OnReconnecting(live.CreateReconnectPrinter(os.Stderr))
	client.OnCaption(live.CreateCaptionPrinter(os.Stderr))
	client.OnTranscript(live.CreateTranscriptPrinter(os.Stderr))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		if err := client.Start(session); err != nil {
			return err
		}

		var sessionErr error
		select {
		case <-gctx.Done():
		case <-failed:
			sessionErr = errors.New("session failed")
		}

		entries := client.Stop()
		if err := writeTranscript(out, opts.transcriptOut, entries); err != nil {
			return err
		}
		return sessionErr
	})

	return g.Wait()
}

func writeTranscript(out io.Writer, path string, entries []live.TranscriptEntry) error {
	if entries == nil {
		entries = []live.TranscriptEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	if path != "" {
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}
	return nil
}
