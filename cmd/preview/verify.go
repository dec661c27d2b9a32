package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apiclient "github.com/splax/previewd/pkg/api/client"
)

var errVerificationFailed = errors.New("verification failed")

type buildFlags struct {
	project         string
	name            string
	framework       string
	installCommand  string
	buildCommand    string
	outputDirectory string
}

func (b *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.project, "project", "", "project identifier recorded with the preview")
	cmd.Flags().StringVar(&b.name, "name", "", "deployment name")
	cmd.Flags().StringVar(&b.framework, "framework", "", "framework override (nextjs, vite, ...)")
	cmd.Flags().StringVar(&b.installCommand, "install-command", "", "install command override")
	cmd.Flags().StringVar(&b.buildCommand, "build-command", "", "build command override")
	cmd.Flags().StringVar(&b.outputDirectory, "output-dir", "", "output directory override")
}

func (b buildFlags) settings() apiclient.BuildSettings {
	return apiclient.BuildSettings{
		Framework:       strings.TrimSpace(b.framework),
		InstallCommand:  strings.TrimSpace(b.installCommand),
		BuildCommand:    strings.TrimSpace(b.buildCommand),
		OutputDirectory: strings.TrimSpace(b.outputDirectory),
	}
}

func newVerifyCmd() *cobra.Command {
	var (
		build     buildFlags
		maxFixes  int
		noAutoFix bool
		detach    bool
		write     bool
		showLogs  bool
	)
	cmd := &cobra.Command{
		Use:   "verify <dir>",
		Short: "Build a directory on a preview deployment, repairing failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			input := apiclient.VerifyInput{
				Files:              files,
				ProjectID:          build.project,
				Name:               build.name,
				Settings:           build.settings(),
				MaxAutoFixAttempts: maxFixes,
				DisableAutoFix:     noAutoFix,
			}
			out := cmd.OutOrStdout()

			if detach {
				id, err := client.StartVerify(cmd.Context(), token, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "session started: %s\n", id)
				fmt.Fprintf(out, "follow with: preview follow %s\n", id)
				return nil
			}

			fmt.Fprintf(out, "uploading %d files from %s\n", len(files), args[0])
			p := newProgress(out)
			result, err := client.VerifyStream(cmd.Context(), token, input, p.Event)
			p.flush()
			if err != nil {
				return err
			}
			return finishVerification(cmd, args[0], result, write, showLogs)
		},
	}
	build.register(cmd)
	cmd.Flags().IntVar(&maxFixes, "max-fixes", 0, "maximum automatic repairs (0 uses the server default)")
	cmd.Flags().BoolVar(&noAutoFix, "no-autofix", false, "report the first build failure without repairing")
	cmd.Flags().BoolVar(&detach, "detach", false, "start the session and return its id without waiting")
	cmd.Flags().BoolVar(&write, "write", false, "write repaired files back into <dir>")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print build logs with the result")
	return cmd
}

func finishVerification(cmd *cobra.Command, dir string, result apiclient.Result, write, showLogs bool) error {
	out := cmd.OutOrStdout()
	printResult(out, result, showLogs || !result.Success)
	if write && len(result.Fixes) > 0 {
		written, err := writeProject(dir, result.Files)
		if err != nil {
			return fmt.Errorf("write repaired files: %w", err)
		}
		for _, p := range written {
			fmt.Fprintf(out, "  wrote %s\n", p)
		}
	}
	if !result.Success {
		return errVerificationFailed
	}
	return nil
}
