package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/smazurov/sinkcam/internal/nats"
	"github.com/spf13/cobra"
)

// CreateControlCmd creates the control command, which drives a camera over
// NATS.
func CreateControlCmd() *cobra.Command {
	var server, camera string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "control",
		Short: "Control a camera over NATS",
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&server, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	flags.StringVar(&camera, "camera", "sinkcam", "Camera name")
	flags.DurationVar(&timeout, "timeout", 2*time.Second, "Request timeout")

	withClient := func(fn func(ctx context.Context, c *nats.ControlClient) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			client, err := nats.NewControlClient(server, camera, logging.GetLogger("control"))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return fn(ctx, client)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "warn TEXT",
			Short: "Show warning text on synthetic frames",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(ctx context.Context, c *nats.ControlClient) error {
					return c.SetWarning(ctx, args[0])
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the warning text",
			Args:  cobra.NoArgs,
			RunE: withClient(func(ctx context.Context, c *nats.ControlClient) error {
				return c.ClearWarning(ctx)
			}),
		},
		&cobra.Command{
			Use:   "depth NEAR FAR",
			Short: "Set the depth clip range in millimetres",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				near, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid near: %w", err)
				}
				far, err := strconv.ParseUint(args[1], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid far: %w", err)
				}
				return withClient(func(ctx context.Context, c *nats.ControlClient) error {
					return c.SetDepth(ctx, uint32(near), uint32(far))
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print relay state transitions until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				logging.Initialize(logging.Config{Level: "warn", Format: "text"})
				client, err := nats.NewControlClient(server, camera, logging.GetLogger("control"))
				if err != nil {
					return err
				}
				defer client.Close()

				out := cmd.OutOrStdout()
				err = client.WatchState(func(m nats.StateMessage) {
					fmt.Fprintf(out, "%s %s -> %s %s\n", m.Timestamp, m.Previous, m.State, m.Message)
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				<-ctx.Done()
				return nil
			},
		},
	)
	return cmd
}
