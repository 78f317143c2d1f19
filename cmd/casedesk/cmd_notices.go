package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/casedesk/internal/state"
	"github.com/user/casedesk/internal/types"
)

func init() {
	rootCmd.AddCommand(noticesCmd)
	noticesCmd.Flags().IntP("limit", "n", 20, "number of notices to show (0 for all)")
}

var noticesCmd = &cobra.Command{
	Use:   "notices [<kind> <id>]",
	Short: "Show logged notices for a case, or general notices",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts no arguments or <kind> <id>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			kind types.CaseKind
			id   types.CaseID
		)
		if len(args) == 2 {
			var err error
			if kind, id, err = parseCaseRef(args); err != nil {
				return err
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")

		cfg := loadConfig()
		log := state.NewNoticeLog(cfg.DataDir)
		ctx := context.Background()

		records, err := log.Tail(ctx, kind, id, limit)
		if err != nil {
			return fmt.Errorf("read notices: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No notices logged.")
			return nil
		}
		total, _ := log.Count(ctx, kind, id)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tAT\tLEVEL\tTOPIC\tTEXT")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				r.Seq,
				r.At.Format("2006-01-02 15:04:05"),
				r.Level,
				r.Topic,
				r.Text,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if int64(len(records)) < total {
			fmt.Printf("(%d of %d shown)\n", len(records), total)
		}
		return nil
	},
}
