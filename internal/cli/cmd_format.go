package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/weave/format"
	"github.com/jacentio/weave/store"
)

func newFormatCommand(rt *runtime) *cobra.Command {
	var (
		name     string
		expand   string
		entity   string
		where    []string
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "format",
		Short: "Apply a named format to rows read from stdin or fetched from an entity",
		Long: `Apply a named format to rows and print the result as JSON.

Rows are read from stdin as a JSON array unless --entity is given, in which
case they are fetched from the store using --where filters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--format is required")
			}
			filter, err := parseWhere(where)
			if err != nil {
				return err
			}

			a, err := rt.open()
			if err != nil {
				return err
			}
			defer a.Close()

			formatter, err := a.Formatter()
			if err != nil {
				return err
			}

			var rows []*store.Row
			if entity != "" {
				var opts []store.QueryOption
				if pageSize > 0 {
					opts = append(opts, store.WithPage(page, pageSize))
				}
				rows, err = a.Fetch(cmd.Context(), entity, filter, opts...)
			} else {
				rows, err = store.DecodeRows(rt.in)
			}
			if err != nil {
				return fmt.Errorf("read rows: %w", err)
			}

			out, err := formatter.ApplyNamed(cmd.Context(), name, rows, format.ParseRequest(expand))
			if err != nil {
				return err
			}
			return rt.writeJSON(out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&name, "format", "", "format name")
	flags.StringVar(&expand, "expand", "", "comma separated relations to expand (e.g., user,tags.owner)")
	flags.StringVar(&entity, "entity", "", "fetch rows of this entity type instead of reading stdin")
	flags.StringArrayVar(&where, "where", nil, "field=value filter for --entity (repeatable)")
	flags.IntVar(&page, "page", 1, "page number for --entity")
	flags.IntVar(&pageSize, "page-size", 0, "rows per page for --entity (0 = all)")
	return cmd
}
