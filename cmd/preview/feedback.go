package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/previewd/pkg/api/client"
)

func newFeedbackCmd() *cobra.Command {
	var (
		build      buildFlags
		message    string
		contextURL string
		write      bool
	)
	cmd := &cobra.Command{
		Use:   "feedback <dir>",
		Short: "Apply a described change to a directory and verify the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return errors.New("--message is required")
			}
			token, err := requireToken()
			if err != nil {
				return err
			}
			files, err := readProject(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "requesting change for %d files\n", len(files))

			res, err := client.Feedback(cmd.Context(), token, apiclient.FeedbackInput{
				Files:      files,
				Feedback:   message,
				ContextURL: contextURL,
				ProjectID:  build.project,
				Name:       build.name,
				Settings:   build.settings(),
			})
			if err != nil {
				return err
			}
			if !res.Applied {
				fmt.Fprintf(out, "no change applied (%s): %s\n", res.ErrorKind, res.Error)
				return errVerificationFailed
			}
			fmt.Fprintf(out, "changed %s: %s\n", strings.Join(res.Fix.ChangedFilePaths, ", "), firstLine(res.Fix.Explanation))
			if res.Verification == nil {
				return nil
			}
			verified := *res.Verification
			if len(verified.Files) == 0 {
				verified.Files = res.Files
			}
			return finishVerification(cmd, args[0], verified, write, false)
		},
	}
	build.register(cmd)
	cmd.Flags().StringVarP(&message, "message", "m", "", "the change to make, in plain language")
	cmd.Flags().StringVar(&contextURL, "context-url", "", "URL of the preview the feedback refers to")
	cmd.Flags().BoolVar(&write, "write", false, "write changed files back into <dir>")
	return cmd
}
