// Command ck inspects, converts and seeds clinic snapshots and talks to the
// admin API of a running server.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ck",
		Short: "clinic-keeper snapshot and admin tool",
		Long: `Inspect, validate, convert and seed clinic snapshots on any storage
backend, and call the admin API of a running clinic-keeper server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newVersionCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newConvertCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newSlotsCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newRemoteCommand(opts))
	return cmd
}

func newVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			return out.Print(map[string]string{"version": version, "build_date": buildDate},
				fmt.Sprintf("ck %s (%s)", version, buildDate))
		},
	}
}

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "clinickeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clinickeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: tok, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run ck token --save)")
	}
	return tf.AccessToken, nil
}

// main runs the root command; errors exit with status 1.
func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
