// Command authcheck talks to GigaChat with the server's config, so credential
// and certificate problems can be diagnosed without starting the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/app"
	"github.com/shrimpsizemoose/promptsmith/internal/gigachat"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "authcheck",
		Short:         "Check GigaChat credentials and connectivity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to config file")

	root.AddCommand(
		newTokenCmd(&configPath),
		newGenerateCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadClient(configPath string) (*gigachat.Client, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return gigachat.NewClient(cfg.GigaChatConfig())
}

func newTokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Perform one token exchange and report the expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(*configPath)
			if err != nil {
				return err
			}

			if _, err := client.Tokens().AccessToken(cmd.Context()); err != nil {
				return describe("token exchange", err)
			}

			cached, _ := client.Tokens().Cached()
			logger.Info.Printf("Token OK, expires at %s (in %s)",
				cached.ExpiresAt.UTC().Format(time.RFC3339),
				time.Until(cached.ExpiresAt).Round(time.Second),
			)
			return nil
		},
	}
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var maxElapsed time.Duration

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Improve one prompt, retrying transient failures",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(*configPath)
			if err != nil {
				return err
			}

			text, err := generateWithRetry(cmd.Context(), client, strings.Join(args, " "), maxElapsed)
			if err != nil {
				return describe("completion", err)
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxElapsed, "retry-for", 30*time.Second, "give up retrying after this long, 0 disables retries")
	return cmd
}

type completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// generateWithRetry retries only the failures gigachat.Retryable allows.
func generateWithRetry(ctx context.Context, c completer, prompt string, maxElapsed time.Duration) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = maxElapsed

	var bo backoff.BackOff = expo
	if maxElapsed == 0 {
		bo = &backoff.StopBackOff{}
	}

	var text string
	op := func() error {
		var err error
		text, err = c.Generate(ctx, prompt)
		if err != nil && !gigachat.Retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.Debug.Printf("Retrying after %s error: %v", gigachat.Kind(err), err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		return "", err
	}
	return text, nil
}

func describe(call string, err error) error {
	logger.Error.Printf("%s failed: kind=%s retryable=%t", call, gigachat.Kind(err), gigachat.Retryable(err))
	return fmt.Errorf("%s: %s (%w)", call, gigachat.UserMessage(err), err)
}
