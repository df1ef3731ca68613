package main

import (
	"errors"
	"io"
	"os"

	"github.com/mohammad-safakhou/annotree/config"
	"github.com/mohammad-safakhou/annotree/internal/convert"
	"github.com/mohammad-safakhou/annotree/internal/tree"
	"github.com/spf13/cobra"
)

func convertCMD(cfgPath *string) *cobra.Command {
	var in, out, kind string
	var raw bool
	var cmd = &cobra.Command{
		Use:   "convert",
		Short: "Convert a PDF into its pruned element tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if kind == "" {
				kind = cfg.Converter.Kind
			}
			conv, err := convert.New(kind, convert.Options{LineTolerance: cfg.Converter.LineTolerance})
			if err != nil {
				return err
			}
			root, err := conv.Convert(cmd.Context(), in)
			if err != nil {
				return err
			}
			if !raw && !tree.Prune(root) {
				return errors.New("nothing left after pruning")
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return tree.Encode(w, root)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "source document")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().StringVar(&kind, "kind", "", "converter: tabula or xml (overrides converter.kind)")
	cmd.Flags().BoolVar(&raw, "raw", false, "skip pruning")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
