// main.go
// Application entry point: loads configuration, initializes the logger and runs a chat session
// attached to the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/erilali/whisper/internal/config"
	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/session"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

type cliOptions struct {
	configPath string
	url        string
	username   string
	natsURL    string
	room       string
	multiRoom  bool
	logLevel   string
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:          "whisper",
		Short:        "Terminal client for the whisper chat relay",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "whisper.json", "config file path")
	flags.StringVar(&opts.url, "url", "", "relay websocket url (ws:// or wss://)")
	flags.StringVarP(&opts.username, "username", "u", "", "your username on the relay")
	flags.StringVar(&opts.natsURL, "nats-url", "", "NATS server of the desktop notification agent")
	flags.StringVar(&opts.room, "room", "", "catalog position of the room to open on connect, e.g. #0")
	flags.BoolVar(&opts.multiRoom, "multi-room", false, "keep several rooms joined at once")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable ANSI styles")
	return cmd
}

// loadConfig layers the flags the user set on top of the file and environment.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.RelayURL = opts.url
	}
	if flags.Changed("username") {
		cfg.Username = opts.username
	}
	if flags.Changed("nats-url") {
		cfg.NatsURL = opts.natsURL
	}
	if flags.Changed("room") {
		cfg.RoomHint = opts.room
	}
	if flags.Changed("multi-room") {
		cfg.MultiRoom = opts.multiRoom
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger.InitLogger(cfg.Log)
	log := logger.NewLogger("whisper")
	log.WithFields(map[string]interface{}{
		"level":       cfg.Log.Level,
		"log_to_file": cfg.Log.LogToFile,
		"log_to_json": cfg.Log.LogToJSON,
		"file_path":   cfg.Log.FilePath,
	}).Debug("Logger configuration details")

	out := cmd.OutOrStdout()
	view := newTerminalView(out, !opts.noColor)
	sess, err := session.New(cfg, view, out, log)
	if err != nil {
		return err
	}
	view.setResolver(sess.Resolver())

	if err := sess.Start(context.Background()); err != nil {
		return err
	}
	log.Infof("Connecting to %s as %s", cfg.RelayURL, cfg.Username)

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"session": func(ctx context.Context) error {
			log.Info("Graceful shutdown initiated...")
			return sess.Close()
		},
	})

	quit := make(chan struct{})
	go func() {
		newREPL(sess.Registry(), view, log).run(cmd.InOrStdin())
		close(quit)
	}()

	select {
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown exited with code %d", code)
		}
		return nil
	case <-quit:
		return sess.Close()
	case <-sess.Done():
		return sess.Wait()
	}
}
