package cmd

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/livecenter/internal/livecenter/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		printBanner(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printBanner(w io.Writer) {
	fig := figure.NewFigure("livecenter", "cybermedium", true)
	fmt.Fprintln(w, fig.String())
	fmt.Fprintf(w, "  Live center client - Version %s\n", app.BuildVersion)
}
