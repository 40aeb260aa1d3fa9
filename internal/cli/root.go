// Package cli implements the weave command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/weave/internal/app"
	"github.com/jacentio/weave/store"
)

type runtime struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	fixtures   string
}

func (rt *runtime) open() (*app.App, error) {
	return app.Open(app.Options{
		ConfigPath: rt.configPath,
		LogLevel:   rt.logLevel,
		LogOutput:  rt.errOut,
		Fixtures:   rt.fixtures,
	})
}

func (rt *runtime) writeJSON(v any) error {
	enc := json.NewEncoder(rt.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand builds the weave command tree. Input is read from in,
// results go to out and logs to errOut.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	rt := &runtime{in: in, out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:           "weave",
		Short:         "Resolve entity relations and validate records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&rt.configPath, "config", "", "configuration file (default ./weave.yaml)")
	flags.StringVar(&rt.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&rt.fixtures, "fixtures", "", "JSON fixtures loaded into the memory driver")

	cmd.AddCommand(newRouteCommand(rt))
	cmd.AddCommand(newFormatCommand(rt))
	cmd.AddCommand(newValidateCommand(rt))
	return cmd
}

// parseWhere turns k=v pairs into a filter. Values that parse as JSON keep
// their JSON type, so id=7 is a number and id=[1,2] a list.
func parseWhere(pairs []string) (store.Where, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	where := make(store.Where, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q: expected field=value", pair)
		}
		if json.Valid([]byte(v)) {
			if parsed, err := store.ParseJSONValue([]byte(v)); err == nil {
				where[k] = parsed
				continue
			}
		}
		where[k] = v
	}
	return where, nil
}
