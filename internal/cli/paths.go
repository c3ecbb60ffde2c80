package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiwatch/internal/mapping"
)

var pathsCmd = &cobra.Command{
	Use:   "paths [file.json]",
	Short: "List the addressable paths of a JSON document with suggested widgets",
	Long:  `Reads a JSON document (use - for stdin) and prints every path in document order.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			slog.Error("Failed to read document", "error", err)
			os.Exit(1)
		}
		if err := writePaths(os.Stdout, data); err != nil {
			slog.Error("Failed to list paths", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}

func writePaths(out io.Writer, data []byte) error {
	doc, err := mapping.ParseDocument(data)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tTYPE\tWIDGETS")
	for e := range mapping.EnumeratePaths(doc) {
		kinds := mapping.SuggestWidgets(e.Type)
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		indent := strings.Repeat("  ", e.Depth-1)
		_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\n", indent, e.Path, e.Type, strings.Join(names, ", "))
	}
	return w.Flush()
}
