package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"murmur/beep"
	"murmur/config"
	"murmur/log"
)

var version = "dev"

type rootFlags struct {
	logPath   string
	apiURL    string
	dataDir   string
	format    string
	device    string
	timeout   time.Duration
	autoStop  bool
	ephemeral bool
	setup     bool
	noSound   bool
}

var (
	flags rootFlags
	cfg   *config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "murmur",
		Short: "Voice-first chat client for a transcription and response service",
		Long: `murmur records a voice message or takes typed text, sends it with the
conversation history to the response service and keeps every conversation
on disk.

Configuration is read from the OS config directory (created on first run):
  macOS:   ~/Library/Application Support/murmur/config.yaml
  Linux:   ~/.config/murmur/config.yaml
  Windows: %AppData%/murmur/config.yaml

MURMUR_API_URL and MURMUR_DATA_DIR override the file; flags override both.

Running murmur with no command opens the chat screen.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { log.Close() },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logPath, "logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")
	pf.StringVar(&flags.apiURL, "api-url", "", "response service base URL")
	pf.StringVar(&flags.dataDir, "data-dir", "", "directory for conversations and clips")
	pf.StringVar(&flags.format, "format", "", "clip format: wav or flac")
	pf.StringVar(&flags.device, "device", "", "use named microphone device")
	pf.DurationVar(&flags.timeout, "timeout", 0, "request timeout per exchange")
	pf.BoolVar(&flags.autoStop, "auto-stop", false, "stop recording after 30s without voice")
	pf.BoolVar(&flags.ephemeral, "ephemeral", false, "keep conversations in memory only")
	pf.BoolVar(&flags.noSound, "no-sound", false, "disable sound effects")
	root.Flags().BoolVar(&flags.setup, "setup", false, "select microphone device before starting")

	root.AddCommand(
		newSendCmd(),
		newEditCmd(),
		newListCmd(),
		newShowCmd(),
		newRenameCmd(),
		newDeleteCmd(),
		newExportCmd(),
		newClearCmd(),
		newSettingsCmd(),
		newProfileCmd(),
		newDevicesCmd(),
		newDoctorCmd(),
		newReplayCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads the config, applies flag overrides and starts logging.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, c); err != nil {
		return err
	}
	cfg = c

	logPath := flags.logPath
	if logPath == "" {
		logPath = cfg.LogDir
	}
	dir, err := log.ResolveDir(logPath)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	log.InitCrash()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	if flags.noSound {
		beep.Disable()
	}
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("api-url") {
		c.APIURL = flags.apiURL
	}
	if fl.Changed("data-dir") {
		c.DataDir = flags.dataDir
	}
	if fl.Changed("format") {
		c.Format = flags.format
	}
	if fl.Changed("device") {
		c.Device = flags.device
	}
	if fl.Changed("timeout") {
		c.Timeout = flags.timeout.String()
	}
	if fl.Changed("auto-stop") {
		c.AutoStopSilence = flags.autoStop
	}
	return c.Validate()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
