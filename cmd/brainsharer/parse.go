package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"brainsharer/pkg/annotation"
)

var parseFlags struct {
	unordered bool
	state     bool
}

var parseCmd = &cobra.Command{
	Use:   "parse <layer.json>",
	Short: "Parse an annotation layer and summarize its contents",
	Long: "Parses and groups an annotation layer (\"-\" reads standard input), " +
		"checks every polygon forms a closed loop and prints what it holds. " +
		"With --state the file is a full viewer state and each annotation " +
		"layer in it is summarized.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readLayer(args[0])
		if err != nil {
			return err
		}
		var graphs []*annotation.Graph
		if parseFlags.state {
			if graphs, err = annotation.ParseState(data); err != nil {
				return err
			}
		} else {
			g, err := annotation.Parse(data)
			if err != nil {
				return err
			}
			graphs = []*annotation.Graph{g}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s bytes, %d annotation layers\n", args[0], humanize.Comma(int64(len(data))), len(graphs))
		for _, g := range graphs {
			if parseFlags.unordered || cfg.Pipeline.Unordered {
				if err := g.ReorderPolygons(); err != nil {
					return err
				}
			}
			printLayer(out, g)
		}
		return nil
	},
}

func printLayer(out io.Writer, g *annotation.Graph) {
	fmt.Fprintf(out, "Layer %q\n", g.Name)
	counts := g.Counts()
	kinds := make([]annotation.Kind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %-8s %s\n", kind, humanize.Comma(int64(counts[kind])))
	}

	open := 0
	for _, p := range g.Polygons() {
		if p.Verify() != nil {
			open++
		}
	}
	for _, v := range g.Volumes() {
		for _, p := range v.Children {
			if p.Verify() != nil {
				open++
			}
		}
		printVolume(out, v)
	}
	if open > 0 {
		fmt.Fprintf(out, "%d polygons do not close; rerun with --unordered if they come from the legacy import\n", open)
	}
}

func printVolume(out io.Writer, v *annotation.Volume) {
	desc, contours, err := v.Contours()
	if err != nil {
		fmt.Fprintf(out, "  volume %s: %v\n", v.ID(), err)
		return
	}
	lo, hi := 0, 0
	first := true
	for section := range contours {
		if first || section < lo {
			lo = section
		}
		if first || section > hi {
			hi = section
		}
		first = false
	}
	fmt.Fprintf(out, "  volume %s %q: %d polygons, sections %d-%d\n", v.ID(), desc, len(contours), lo, hi)
}

func init() {
	parseCmd.Flags().BoolVar(&parseFlags.unordered, "unordered", false, "Order polygon lines before checking them")
	parseCmd.Flags().BoolVar(&parseFlags.state, "state", false, "Read a full viewer state instead of one layer")
	rootCmd.AddCommand(parseCmd)
}
