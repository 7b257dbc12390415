// Command countdown runs a quiz timer in the terminal, the clock turning
// yellow then red as time runs out.
package main

import (
	"campus-sync/timer"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	_ = godotenv.Load()
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	seconds := config.Seconds
	if len(args) > 0 {
		if seconds, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}
	}
	if seconds <= 0 {
		return fmt.Errorf("duration must be positive, got %d", seconds)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := timer.NewEngine(log)
	defer engine.Deactivate()
	engine.Activate(seconds, func() {
		log.Debug("Countdown expired", "total_seconds", seconds)
	})
	done := engine.Done()

	fmt.Fprint(out, "\r"+render(engine.Snapshot(), config.Colours))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case snapshot := <-engine.Changes():
			fmt.Fprint(out, "\r"+render(snapshot, config.Colours))
		case <-done:
			fmt.Fprintln(out, "\r"+render(engine.Snapshot(), config.Colours)+" time is up")
			return nil
		}
	}
}

// render formats the clock of snapshot, colored by band when colours is set.
func render(snapshot timer.Snapshot, colours bool) string {
	clock := snapshot.Formatted()
	if !colours {
		return clock
	}
	return styleOf(snapshot.Band()).Render(clock)
}

func styleOf(band timer.Band) color.Style {
	switch band {
	case timer.BandCritical:
		return color.New(color.BgBlack, color.FgRed, color.OpBold)
	case timer.BandWarning:
		return color.New(color.BgBlack, color.FgYellow)
	default:
		return color.New(color.BgBlack, color.FgGreen)
	}
}
