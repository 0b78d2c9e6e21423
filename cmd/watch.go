package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/poller"
	"github.com/JakeFAU/taskshell/internal/view/terminal"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow an export task until it finishes.",
		Long: `watch polls the configured status endpoint for the task and renders its
progress. On success press Enter to download, on failure press Enter to
acknowledge the error. Both end with a redirect to the index URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			view := terminal.New(cmd.OutOrStdout(), cmd.InOrStdin())
			p, err := appInstance.NewPoller(args[0], view)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := p.Start(ctx); err != nil {
				return fmt.Errorf("start poller: %w", err)
			}
			err = p.Wait(cmd.Context())
			rec := p.Record()
			appInstance.Logger().Debug("watch finished",
				zap.String("task_id", rec.TaskID),
				zap.String("state", string(rec.State)),
			)
			if err != nil && !errors.Is(err, poller.ErrStopped) && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
