package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/casedesk/internal/status"
	"github.com/user/casedesk/internal/types"
)

// errReported marks failures already shown to the user as a notice.
var errReported = errors.New("already reported")

func init() {
	rootCmd.AddCommand(caseCmd)
	caseCmd.AddCommand(caseListCmd, caseShowCmd, caseStatusCmd, caseWatchCmd)

	caseListCmd.Flags().String("kind", "request", "case kind: request or grievance")
	caseStatusCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	caseWatchCmd.Flags().String("schedule", "", "cron schedule (default from config)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Browse and manage cases",
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases of one kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawKind, _ := cmd.Flags().GetString("kind")
		kind, err := parseKind(rawKind)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		token, err := a.tokens.Token(ctx)
		if err != nil {
			return err
		}
		cases, err := a.client.ListCases(ctx, token, kind)
		if err != nil {
			return fmt.Errorf("list %ss: %w", kind, err)
		}
		if len(cases) == 0 {
			fmt.Printf("No %ss found.\n", kind)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tNATURE\tSUBMITTER\tUPDATED")
		for _, c := range cases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.ID,
				c.Status,
				c.NatureLabel,
				c.SubmitterName,
				c.UpdatedAt.In(a.loc).Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

var caseShowCmd = &cobra.Command{
	Use:   "show <kind> <id>",
	Short: "Print a case and its comment thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseCaseRef(args)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		s, err := a.openScreen(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := s.Render(os.Stdout); err != nil {
			return err
		}
		if targets := s.StatusTargets(); len(targets) > 0 {
			fmt.Printf("\nYou can move this case to: %s\n", joinStatuses(targets))
		}
		return nil
	},
}

var caseStatusCmd = &cobra.Command{
	Use:   "status <kind> <id> <status>",
	Short: "Change a case's status",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseCaseRef(args)
		if err != nil {
			return err
		}
		target := types.CaseStatus(strings.ToLower(args[2]))
		if !target.Valid() {
			return fmt.Errorf("unknown status %q", args[2])
		}
		yes, _ := cmd.Flags().GetBool("yes")

		ctx, cancel := signalContext()
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		s, err := a.openScreen(ctx, kind, id)
		if err != nil {
			return err
		}
		if err := s.Status.Request(target); err != nil {
			if errors.Is(err, status.ErrTransitionNotAllowed) {
				if targets := s.StatusTargets(); len(targets) > 0 {
					return fmt.Errorf("%w (allowed: %s)", err, joinStatuses(targets))
				}
			}
			return err
		}

		if !yes {
			question := fmt.Sprintf("Change %s #%s from %s to %s?", kind, id, s.Store.Case().Status, target)
			if !confirm(bufio.NewScanner(os.Stdin), question) {
				_ = s.Status.Cancel()
				fmt.Println("Cancelled.")
				return nil
			}
		}

		job, err := s.Status.Confirm(ctx)
		if err != nil {
			return err
		}
		if err := job.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errReported
		}
		if phase, _ := s.Status.Phase(); phase != status.PhaseSucceeded {
			return errReported
		}
		return s.Render(os.Stdout)
	},
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(scanner *bufio.Scanner, question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func joinStatuses(statuses []types.CaseStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
