package main

import (
	"fmt"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mgnsk/fibra-workers/internal/config"
	"github.com/mgnsk/fibra-workers/pkg/sparql"
)

func statsCmd(a *app) *cobra.Command {
	var (
		projectFile string
		properties  bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print class and property statistics of a project's endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			project, err := config.LoadProject(projectFile)
			if err != nil {
				return err
			}

			d, closer, err := a.dispatcher(ctx)
			if err != nil {
				return err
			}
			defer closer()

			state := &sparql.CommonState{Project: project}
			if _, err := d.PushState(ctx, state).Await(ctx); err != nil {
				return err
			}

			client := sparql.NewStatisticsClient(d)
			endpoints := state.Endpoints()
			classes := make([]map[string]int64, len(endpoints))
			props := make([]map[string]map[string]*sparql.PropertyStatistics, len(endpoints))

			g, gctx := errgroup.WithContext(ctx)
			for i, e := range endpoints {
				g.Go(func() (err error) {
					classes[i], err = client.GetClassStatistics(gctx, e)
					return err
				})
				if properties {
					g.Go(func() (err error) {
						props[i], err = client.GetPropertyStatistics(gctx, e)
						return err
					})
				}
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, e := range endpoints {
				fmt.Fprintf(w, "# %s\n", e.SparqlEndpoint())
				for _, class := range sortedKeys(classes[i]) {
					fmt.Fprintf(w, "%s\t%d\n", class, classes[i][class])
					for _, prop := range sortedKeys(props[i][class]) {
						s := props[i][class][prop]
						fmt.Fprintf(w, "  %s\t%d subjects\t%d values\t%.2f per subject\n", prop, s.Subjects, s.Values, s.ValuesPerSubject())
					}
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&projectFile, "project", "p", "project.yaml", "Project file")
	cmd.Flags().BoolVar(&properties, "properties", false, "Also print property statistics")

	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
