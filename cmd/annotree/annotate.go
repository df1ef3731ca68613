package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mohammad-safakhou/annotree/config"
	"github.com/mohammad-safakhou/annotree/internal/annotate"
	srv "github.com/mohammad-safakhou/annotree/internal/server"
	"github.com/spf13/cobra"
)

func annotateCMD(cfgPath *string) *cobra.Command {
	var batchPath string
	var cmd = &cobra.Command{
		Use:   "annotate",
		Short: "Apply an annotation batch offline and write the annotated tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			batch, err := readBatch(cmd.InOrStdin(), batchPath)
			if err != nil {
				return err
			}
			d, err := srv.BuildDeps(cmd.Context(), cfg, srv.AllowLocalFiles())
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.Sessions.Process(cmd.Context(), batch)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&batchPath, "batch", "-", "annotation batch JSON file, - for stdin")
	return cmd
}

func readBatch(stdin io.Reader, path string) (annotate.Batch, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var batch annotate.Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}
