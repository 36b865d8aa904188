package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rojolang/interview-live-go/pkg/live"
	"github.com/rojolang/interview-live-go/pkg/live/audiodev"
)

var (
	verbose       bool
	configPath    string
	tokenEndpoint string
	wsEndpoint    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "interview-live",
		Short:         "Real-time voice interview sessions",
		Long:          "A command-line client for streaming mock interviews with a live generative-audio service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&tokenEndpoint, "token-endpoint", "", "HTTP endpoint issuing session credentials")
	rootCmd.PersistentFlags().StringVar(&wsEndpoint, "ws-endpoint", "", "WebSocket endpoint used when no token endpoint is set")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(codecCmd())

	return rootCmd
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig() (*live.ClientConfig, error) {
	cfg, err := live.LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}
	if tokenEndpoint != "" {
		cfg.TokenEndpoint = tokenEndpoint
	}
	if wsEndpoint != "" {
		cfg.WsEndpoint = wsEndpoint
	}
	if verbose {
		cfg.DebugLevel = "DEBUG"
	}

	logCfg := live.DefaultLogConfig()
	logCfg.Level = live.ParseLogLevel(cfg.DebugLevel)
	logCfg.Pretty = cfg.PrettyLogs
	cfg.Logger = live.NewLogger(logCfg)
	return cfg, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  "Display configuration after applying the config file, INTERVIEW_LIVE_* variables and flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cfg.Print(out)
			if issues := cfg.Validate(); len(issues) > 0 {
				fmt.Fprintln(out, "\nIssues:")
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	})

	return cmd
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device commands",
	}

	var backend string
	list := &cobra.Command{
		Use:   "list",
		Short: "List audio devices",
		Long:  "List input and output devices for the PortAudio backend, or input sources for PulseAudio",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audiodev.List(cmd.Context(), backend)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No devices found")
				return nil
			}
			fmt.Fprintf(out, "Audio Devices (%s):\n", backend)
			for _, d := range devices {
				extra := ""
				if d.HostAPI != "" {
					extra = fmt.Sprintf(" - %s, %.0f Hz", d.HostAPI, d.DefaultSampleRate)
				}
				if d.Backend == audiodev.BackendPulse {
					flags := []string{d.State}
					if !d.Available {
						flags = append(flags, "unavailable")
					}
					if d.Muted {
						flags = append(flags, "muted")
					}
					extra = " - " + strings.Join(flags, ", ")
				}
				fmt.Fprintf(out, "  %s%s\n", d, extra)
			}
			return nil
		},
	}
	list.Flags().StringVar(&backend, "backend", audiodev.BackendPortAudio, "Audio backend: portaudio or pulse")

	cmd.AddCommand(list)
	return cmd
}

func codecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codec",
		Short: "Audio format utilities",
	}

	var rate, channels, bits int
	pcm2wav := &cobra.Command{
		Use:   "pcm2wav <in.pcm> <out.wav>",
		Short: "Wrap raw little-endian PCM in a WAV header",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pcm, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			wav, err := live.PCMToWAV(pcm, rate, channels, bits)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], wav, 0o644); err != nil {
				return err
			}
			format := live.AudioFormat{SampleRate: rate, Channels: channels, BitsPerSample: bits}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %s)\n", args[1], format, format.Duration(len(pcm)))
			return nil
		},
	}
	pcm2wav.Flags().IntVar(&rate, "rate", 24000, "Sample rate in Hz")
	pcm2wav.Flags().IntVar(&channels, "channels", 1, "Channel count")
	pcm2wav.Flags().IntVar(&bits, "bits", 16, "Bits per sample")

	cmd.AddCommand(pcm2wav)
	return cmd
}
