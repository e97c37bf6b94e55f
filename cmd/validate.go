package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/smazurov/scanout/internal/config"
	"github.com/spf13/cobra"
)

// CreateValidateTopologyCmd creates the validate-topology command.
func CreateValidateTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-topology [file]",
		Short: "Validate a display topology file",
		Long: `Loads a topology file, applies defaults and checks component ids, pipeline paths, ` +
			`write modes and modes. Prints a summary of every pipeline on success.`,
		Args: cobra.ExactArgs(1),
		// Standalone: skip the daemon setup run by the root command.
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := config.LoadTopology(args[0])
			if err != nil {
				return err
			}
			return printTopology(cmd, topo)
		},
	}
}

func printTopology(cmd *cobra.Command, topo *config.Topology) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d components, %d pipelines\n\n", len(topo.Components), len(topo.Pipelines))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIPELINE\tPATH\tROUTES\tWRITE MODE\tLAYERS\tMODE")
	for _, p := range topo.Pipelines {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			p.Name,
			componentNames(topo, p.Path),
			componentNames(topo, p.Routes),
			p.WriteMode,
			layerCount(topo, p.Path),
			p.Mode.String(),
		)
	}
	return w.Flush()
}

func componentNames(topo *config.Topology, ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		c, _ := topo.Component(id)
		names[i] = c.Name
	}
	return strings.Join(names, ">")
}

// layerCount mirrors the pipeline rule: the first component always
// contributes its layers, the second only when it blends a background input.
func layerCount(topo *config.Topology, path []int) int {
	first, _ := topo.Component(path[0])
	n := first.Layers
	if len(path) > 1 {
		if second, _ := topo.Component(path[1]); second.BackgroundInput {
			n += second.Layers
		}
	}
	return n
}
