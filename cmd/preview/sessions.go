package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session>",
		Short: "Show the latest state of a verification session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireToken()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			snap, err := client.Session(cmd.Context(), token, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s: %s\n", snap.SessionID, snap.Phase)
			if snap.Message != "" {
				fmt.Fprintf(out, "  %s\n", snap.Message)
			}
			if snap.PollMax > 0 {
				fmt.Fprintf(out, "  poll %d/%d\n", snap.PollAttempt, snap.PollMax)
			}
			fmt.Fprintf(out, "  started %s, updated %s\n", snap.StartedAt.Format(time.RFC3339), snap.UpdatedAt.Format(time.RFC3339))
			if snap.Result != nil {
				printResult(out, *snap.Result, false)
			}
			return nil
		},
	}
}

func newFollowCmd() *cobra.Command {
	var showLogs bool
	cmd := &cobra.Command{
		Use:   "follow <session>",
		Short: "Stream progress of a running session until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireToken()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			p := newProgress(cmd.OutOrStdout())
			result, err := client.Follow(cmd.Context(), token, args[0], p.Event)
			p.flush()
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result, showLogs || !result.Success)
			if !result.Success {
				return errVerificationFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print build logs with the result")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel a running session and delete its deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireToken()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Cancel(cmd.Context(), token, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
			return nil
		},
	}
}

func newPreviewsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "previews",
		Short: "List your active preview deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := requireToken()
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			previews, err := client.ListPreviews(cmd.Context(), token, false)
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(previews) {
				previews = previews[:limit]
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tURL\tFIXES\tCREATED\tEXPIRES")
			for _, p := range previews {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.URL, p.AutoFixAttempts,
					p.CreatedAt.Format(time.RFC3339), p.ExpiresAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of previews to display")
	return cmd
}
