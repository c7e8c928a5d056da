package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"brainsharer/pkg/coords"
	"brainsharer/pkg/reconstruction"
	"brainsharer/pkg/session"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write the rows of a stored session as an annotation layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "session id %q", args[0])
		}
		n, err := coords.NewNormalizer(cfg.Scale)
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Storage.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		sess, err := store.Session(ctx, id)
		if err != nil {
			return err
		}
		layer, err := reconstruction.ExportSession(ctx, store, n, sess)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(layer)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the layer to a file instead of standard output")
	rootCmd.AddCommand(exportCmd)
}
