package cli

import (
	"github.com/spf13/cobra"
)

type routeOutput struct {
	Entity string `json:"entity"`
	Driver string `json:"driver"`
	Read   string `json:"read"`
	Write  string `json:"write"`
}

func newRouteCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "route ENTITY",
		Short: "Print the read and write connections an entity type resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.open()
			if err != nil {
				return err
			}
			defer a.Close()

			conns, err := a.Registry.Route(args[0])
			if err != nil {
				return err
			}
			return rt.writeJSON(routeOutput{
				Entity: args[0],
				Driver: conns.Read.Driver,
				Read:   conns.Read.Name,
				Write:  conns.Write.Name,
			})
		},
	}
}
