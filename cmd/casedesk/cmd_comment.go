package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/casedesk/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(commentCmd)
	commentCmd.AddCommand(commentSendCmd)

	commentSendCmd.Flags().StringP("text", "t", "", "comment text")
	commentSendCmd.Flags().StringArrayP("attach", "a", nil, "file to attach (repeatable)")
}

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Post comments on a case",
}

var commentSendCmd = &cobra.Command{
	Use:   "send <kind> <id>",
	Short: "Send a comment with optional attachments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, id, err := parseCaseRef(args)
		if err != nil {
			return err
		}
		text, _ := cmd.Flags().GetString("text")
		attach, _ := cmd.Flags().GetStringArray("attach")

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
		for _, path := range attach {
			if err := s.Attach(path); err != nil {
				return fmt.Errorf("attach %s: %w", path, err)
			}
		}
		s.Composer.SetText(text)

		out, err := s.Send(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptyMessage) {
				return fmt.Errorf("nothing to send: pass --text or --attach")
			}
			return err
		}
		if err := out.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errReported
		}

		if err := s.Render(os.Stdout); err != nil {
			return err
		}
		fmt.Printf("\nComment %s.\n", out.Outcome())
		return nil
	},
}
