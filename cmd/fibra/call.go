package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mgnsk/fibra-workers/pkg/codec"
	"github.com/mgnsk/fibra-workers/pkg/wire"
	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

func callCmd(a *app) *cobra.Command {
	var (
		all   bool
		dump  bool
		plain bool
	)

	cmd := &cobra.Command{
		Use:   "call SERVICE METHOD [ARG...]",
		Short: "Call a worker service method",
		Long: `Call a worker service method and print its result.

Each ARG is a YAML or JSON document in wire form. Objects carrying a
"$tag" key are restored to their registered types before the call, so
'{"$tag": "Citable", "id": "http://example.org/a"}' is passed as a Citable.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, err := a.registry()
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(reg, args[2:])
			if err != nil {
				return err
			}

			d, closer, err := a.dispatcher(ctx)
			if err != nil {
				return err
			}
			defer closer()

			var f *wrpc.Future
			if all {
				f = d.CallAll(ctx, args[0], args[1], callArgs...)
			} else {
				f = d.Call(ctx, args[0], args[1], callArgs...)
			}
			f.OnUpdate(func(v any) {
				fmt.Fprintf(os.Stderr, "progress: %v\n", v)
			})

			v, err := f.Await(ctx)
			if err != nil {
				return err
			}
			if dump {
				spew.Fdump(cmd.OutOrStdout(), v)
				return nil
			}
			return printTree(cmd, reg, v, plain)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Send the call to every worker and print the first result")
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the restored Go value instead of its wire form")
	cmd.Flags().BoolVar(&plain, "plain", false, "Strip type tags from the printed result")

	return cmd
}

// parseArgs decodes command line documents into wire trees and restores them.
func parseArgs(reg *codec.Registry, docs []string) ([]any, error) {
	out := make([]any, len(docs))
	for i, doc := range docs {
		var v any
		if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		b, err := wire.JSON().Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		tree, err := wire.JSON().Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		if out[i], err = codec.Restore(reg, tree); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}
	return out, nil
}

func printTree(cmd *cobra.Command, reg *codec.Registry, v any, plain bool) error {
	tree, err := codec.Tag(reg, v)
	if err != nil {
		return err
	}
	tree = codec.StripMarks(tree)
	if plain {
		tree = codec.StripTypeTags(tree)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}
