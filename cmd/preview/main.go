package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiclient "github.com/splax/previewd/pkg/api/client"
)

const defaultAPIBase = "http://localhost:4100"

var (
	buildVersion = "dev"
	cfgFile      string
)

var rootCmd = &cobra.Command{
	Use:           "preview",
	Short:         "Verify generated projects against a live preview deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `preview uploads a directory of generated source files to previewd, which
builds it on the configured deployment provider and repairs build failures
automatically. Progress is streamed while the session runs.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.preview.yaml)")
	rootCmd.PersistentFlags().String("api", "", "previewd base URL (or set PREVIEW_API)")
	rootCmd.PersistentFlags().String("token", "", "access token (or set PREVIEW_TOKEN)")

	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.SetDefault("api", defaultAPIBase)

	rootCmd.AddCommand(
		newVerifyCmd(),
		newFeedbackCmd(),
		newStatusCmd(),
		newFollowCmd(),
		newCancelCmd(),
		newPreviewsCmd(),
		newLoginCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".preview")
	}

	viper.SetEnvPrefix("preview")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "warning: read config: %v\n", err)
		}
	}
}

func newClient() (*apiclient.Client, error) {
	return apiclient.New(viper.GetString("api"))
}

func requireToken() (string, error) {
	token := strings.TrimSpace(viper.GetString("token"))
	if token == "" {
		return "", errors.New("no access token: run 'preview login' or pass --token")
	}
	return token, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(buildVersion))
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes a failed verification from a usage or transport error.
func exitCode(err error) int {
	if errors.Is(err, errVerificationFailed) {
		return 2
	}
	return 1
}
