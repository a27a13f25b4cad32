package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/parley/internal/client"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/spf13/cobra"
)

// Flag variables.
var (
	profileFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "parleyctl",
	Short:         "Control a running parleyd daemon.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "",
		"profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false,
		"output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second,
		"per-command deadline; 0 disables it")
}

// connect dials the daemon serving the selected profile.
func connect() (*client.Client, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

// run connects, applies the command deadline and calls fn.
func run(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
	}
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// show prints v as JSON under --json, and calls text otherwise.
func show(v any, text func()) error {
	if jsonFlag {
		return outputJSON(v)
	}
	text()
	return nil
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.DateTime)
}
