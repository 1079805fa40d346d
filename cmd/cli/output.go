package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// output writes results as indented JSON or plain text.
type output struct {
	format  string
	w       io.Writer
	verbose bool
}

func newOutput(cmd *cobra.Command, opts *RootOptions) *output {
	return &output{format: opts.Format, w: cmd.OutOrStdout(), verbose: opts.Verbose}
}

// Print writes v in JSON mode and text otherwise.
func (o *output) Print(v any, text string) error {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(o.w, text)
	return err
}

// Counts writes per-table counts sorted by table name.
func (o *output) Counts(header string, counts map[string]int) error {
	if o.format == "json" {
		return o.Print(counts, "")
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	if header != "" {
		if _, err := fmt.Fprintln(o.w, header); err != nil {
			return err
		}
	}
	for _, name := range names {
		if _, err := fmt.Fprintf(o.w, "%s\t%d\n", name, counts[name]); err != nil {
			return err
		}
	}
	return nil
}

// logger writes development logs to stderr when verbose, nothing otherwise.
func (o *output) logger(cmd *cobra.Command) *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "logger:", err)
		return zap.NewNop()
	}
	return l
}
