package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"brainsharer/pkg/reconstruction"
	"brainsharer/pkg/session"
)

var saveFlags struct {
	animal    string
	annotator string
	unordered bool
	meters    bool
}

var saveCmd = &cobra.Command{
	Use:   "save <layer.json>",
	Short: "Store an annotation layer as annotation sessions",
	Long: "Parses and rasterizes a layer, then replaces the rows of every " +
		"session it touches. Existing rows are archived first. Nothing is " +
		"written if any part of the layer is invalid or cannot be drawn.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if saveFlags.animal == "" || saveFlags.annotator == "" {
			return errors.New("--animal and --annotator are required")
		}
		data, err := readLayer(args[0])
		if err != nil {
			return err
		}
		p := params()
		f := cmd.Flags()
		if f.Changed("unordered") {
			p.Unordered = saveFlags.unordered
		}
		if f.Changed("meters") {
			p.Meters = saveFlags.meters
		}

		store, err := session.Open(cfg.Storage.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		r := reconstruction.NewReconstructor(p, logger, pipeline)
		saved, err := r.SaveLayer(cmd.Context(), store, data, session.Owner{Animal: saveFlags.animal, Annotator: saveFlags.annotator})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(saved) == 0 {
			fmt.Fprintln(out, "Nothing to store")
			return nil
		}
		for _, s := range saved {
			fmt.Fprintf(out, "session %d %-16s %-18s %s rows\n",
				s.Session.ID, s.Session.Label, s.Session.AnnotationType, humanize.Comma(int64(s.Rows)))
		}
		logger.Infof("Stored %d sessions for %s in %s", len(saved), saveFlags.animal, store.Path())
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <animal>",
	Short: "List the annotation sessions of an animal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.Open(cfg.Storage.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := cmd.Context()
		sessions, err := store.Sessions(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, sess := range sessions {
			state := "inactive"
			if sess.Active {
				state = "active"
			}
			fmt.Fprintf(out, "%6d %-16s %-10s %-18s %-8s updated %s\n",
				sess.ID, sess.Label, sess.Annotator, sess.AnnotationType, state, humanize.Time(sess.Updated))
			sets, err := store.ArchiveSets(ctx, sess.ID)
			if err != nil {
				return err
			}
			for _, set := range sets {
				fmt.Fprintf(out, "       archive %d from %s\n", set.ID, humanize.Time(set.Created))
			}
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <archive-id>",
	Short: "Make an archived set of rows the active session again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "archive id %q", args[0])
		}
		store, err := session.Open(cfg.Storage.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		sess, err := store.RestoreArchive(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archive %d restored as session %d (%s %s)\n",
			id, sess.ID, sess.Label, sess.AnnotationType)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveFlags.animal, "animal", "", "Animal the layer belongs to")
	saveCmd.Flags().StringVar(&saveFlags.annotator, "annotator", "", "User who drew the layer")
	saveCmd.Flags().BoolVar(&saveFlags.unordered, "unordered", false, "Order polygon lines first (legacy layers)")
	saveCmd.Flags().BoolVar(&saveFlags.meters, "meters", false, "Read layer coordinates as metres")
	rootCmd.AddCommand(saveCmd, sessionsCmd, restoreCmd)
}
