package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/artifactquota/internal/app"
	"github.com/lucasew/artifactquota/internal/db"
	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists past reclamations recorded in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("ledger")
		if path == "" {
			return errors.New("no ledger configured, set --ledger or ARTIFACTQUOTA_LEDGER")
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		repository, err := cmd.Flags().GetString("repository")
		if err != nil {
			return err
		}
		verbose := viper.GetBool("verbose")

		ledger, err := db.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			errutil.LogMsg(ledger.Close(), "Failed to close ledger")
		}()

		entries, err := ledger.Recent(cmd.Context(), repository, limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWHEN\tNAMESPACE\tLIMIT\tDEFICIT\tFREED\tEVICTED\tSTATUS")
		for _, e := range entries {
			status := "ok"
			switch {
			case e.Error != "":
				status = "failed"
			case e.DryRun:
				status = "dry-run"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, humanize.Time(e.RecordedAt), e.Namespace,
				app.FormatBytes(e.Limit), app.FormatBytes(e.Deficit),
				app.FormatBytes(e.DeletedSize), len(e.Evicted), status)
			if verbose {
				for _, a := range e.Evicted {
					fmt.Fprintf(w, "\t\t  %s\t%s\trun %s\t\t\t\n", a.Name, app.FormatBytes(a.Size), a.RunID)
				}
				if e.Error != "" {
					fmt.Fprintf(w, "\t\t  error: %s\t\t\t\t\t\n", e.Error)
				}
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "Number of reclamations to show")
	historyCmd.Flags().String("repository", "", "Only show this namespace")
}
