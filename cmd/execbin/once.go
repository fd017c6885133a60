package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"execbin/internal/runtime/supervisor"
	"execbin/internal/scriptrunner"
	"execbin/internal/task"
)

const drainWait = 5 * time.Second

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once <script>",
		Short: "Run $HOME/bin/<script> one time, reporting like a scheduled cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return once(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	}
}

// once drives a single cycle as if the ping had just succeeded.
// It fails when the cycle reported an error.
func once(ctx context.Context, script string, w io.Writer) error {
	sup := supervisor.New(ctx)
	msg := &tallyMessenger{next: scriptrunner.ConsoleMessenger(w)}
	r := scriptrunner.New(
		scriptrunner.WithMessenger(msg),
		scriptrunner.WithOutput(w),
		scriptrunner.WithSpawner(scriptrunner.SpawnerFunc(sup.Spawn)),
	)
	r.Init(nil, 0, script)

	ping := r.NextAction()
	r.Callback(task.NewActionResult(ping, task.Response{Status: task.StatusSuccess}, nil))

	waitCtx, cancel := context.WithTimeout(context.Background(), drainWait)
	defer cancel()
	_ = sup.Wait(waitCtx)

	if n := msg.errors.Load(); n > 0 {
		return fmt.Errorf("%s: cycle reported %d error(s)", script, n)
	}
	return nil
}

// tallyMessenger counts error messages on their way to the console.
type tallyMessenger struct {
	next   scriptrunner.Messenger
	errors atomic.Int32
}

func (m *tallyMessenger) Msg(level scriptrunner.Level, message string) {
	if level == scriptrunner.LevelError {
		m.errors.Add(1)
	}
	m.next.Msg(level, message)
}
