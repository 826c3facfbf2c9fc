package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/batterywidget/internal/config"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"github.com/spf13/pflag"
)

const usage = `Usage: batterywidget <command> [flags]

Commands:
  run       capture, store and render battery widgets until stopped
  history   print stored snapshots
  prune     apply the retention window once
  clear     delete every stored snapshot
  widgets   print declared and registered widget instances

Run "batterywidget <command> --help" for the flags of a command.
`

// dotenvFiles seed the environment before config is read.
var dotenvFiles = []string{".env"}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(ctx, args)
	case "history":
		err = historyCommand(ctx, args, os.Stdout)
	case "prune":
		err = pruneCommand(ctx, args, os.Stdout)
	case "clear":
		err = clearCommand(ctx, args, os.Stdout)
	case "widgets":
		err = widgetsCommand(ctx, args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Error().Err(err).Msg("batterywidget failed")
		cancel()
		os.Exit(1)
	}
}

// loadConfig parses args with the shared daemon flags plus any extra
// flags the caller registered on fs, then initializes logging.
func loadConfig(ctx context.Context, fs *pflag.FlagSet, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(ctx, config.WithFlags(fs), config.WithDotEnv(dotenvFiles...))
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.GetLogLevel(), logger.IsService())
	logger.Debug().Msg("Config loaded")

	return cfg, nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
