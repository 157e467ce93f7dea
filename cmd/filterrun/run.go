package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/filterd/internal/frame"
	"github.com/seantiz/filterd/internal/gpu"
	"github.com/seantiz/filterd/internal/graph"
	"github.com/seantiz/filterd/internal/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE|NAME",
		Short: "Run a graph until it finishes or is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := resolveDefinition(args[0])
			if err != nil {
				return err
			}
			stopAfter, _ := cmd.Flags().GetDuration("stop-after")
			quiet, _ := cmd.Flags().GetBool("quiet")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = runGraph(ctx, cmd.OutOrStdout(), loggerFor(cmd), def, stopAfter, quiet)
			return err
		},
	}
	cmd.Flags().Duration("stop-after", 0, "Stop the run after this long (0 runs to completion)")
	cmd.Flags().BoolP("quiet", "q", false, "Only print the outcome")
	return cmd
}

// runGraph runs def on a controller whose launcher is the calling goroutine.
// Cancelling ctx or reaching stopAfter stops the run; either way it returns
// once the run has reported done.
func runGraph(ctx context.Context, out io.Writer, logger *slog.Logger, def *graph.Definition, stopAfter time.Duration, quiet bool) (runner.Outcome, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gctx := gpu.NewContext(logger)
	if err := gctx.Activate(); err != nil {
		return runner.OutcomeStopped, err
	}
	defer gctx.Deactivate()

	pool := frame.NewPool()
	var ctrl *runner.Controller
	ctrl = runner.NewController(gctx, graph.Factory(func() graph.Env {
		return graph.Env{Pool: pool, GPU: gctx, Forward: ctrl.Forwarder(), Logger: logger}
	}), logger)

	var frames int
	ctrl.SetFrameObserver(func(producerID string, f runner.Frame, userData any) {
		frames++
		if quiet {
			return
		}
		fr := f.(*frame.Frame)
		format := fr.Format()
		fmt.Fprintf(out, "frame %d producer=%s seq=%d size=%dx%d", frames, producerID, fr.Seq(), format.Width, format.Height)
		if userData != nil {
			fmt.Fprintf(out, " user_data=%v", userData)
		}
		fmt.Fprintln(out)
	})

	pumpCtx, donePumping := context.WithCancel(context.Background())
	defer donePumping()
	var (
		outcome runner.Outcome
		runErr  error
	)
	ctrl.SetDoneCallback(func(o runner.Outcome, err error) {
		outcome, runErr = o, err
		donePumping()
	})

	if err := ctrl.SetGraph(def); err != nil {
		return runner.OutcomeStopped, err
	}
	if err := ctrl.Run(); err != nil {
		return runner.OutcomeStopped, err
	}

	go func() {
		var deadline <-chan time.Time
		if stopAfter > 0 {
			t := time.NewTimer(stopAfter)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-ctx.Done():
			ctrl.Stop()
		case <-deadline:
			ctrl.Stop()
		case <-pumpCtx.Done():
		}
	}()

	if err := ctrl.Pump(pumpCtx); err != nil && !errors.Is(err, context.Canceled) {
		return runner.OutcomeStopped, err
	}
	ctrl.Wait()

	fmt.Fprintf(out, "%s: %d frames (leaked %d)\n", outcome, frames, pool.Live())
	if runErr != nil {
		return outcome, fmt.Errorf("run %s: %w", outcome, runErr)
	}
	return outcome, nil
}
