package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/s-hammon/memloc"
	"github.com/s-hammon/memloc/internal/locate"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/memloc/internal/value"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		interval string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch <pid> <query> <type>",
		Short: "re-resolve a query on an interval and print the value each time",
		Long:  "Re-resolve a query every tick and print the value at the result.\nTicks that fail are reported and retried on the next one.\n\n<type> is " + typeHelp() + ".",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := sig.ParseQuery(args[1])
			if err != nil {
				return err
			}
			typ, err := value.ParseType(args[2])
			if err != nil {
				return err
			}
			typ = typ.ForPointerSize(opts.pointerSize)
			every, err := parseInterval(interval)
			if err != nil {
				return err
			}

			t, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			updates := make(chan memloc.Update, 1)
			cfg := WorkerConfig{Query: q, Type: typ, Interval: every, Count: count}
			go RunWorker(ctx, t.loc, t.mem, cfg, updates)

			if err := memloc.PrintUpdates(updates, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
				return fmt.Errorf("watch: %v", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&interval, "interval", "i", "1s", "time between reads (500us, 250ms, 2s, 1m30s)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many ticks (0 runs until interrupted)")

	return cmd
}

type WorkerConfig struct {
	Query    sig.Query
	Type     value.Type
	Interval time.Duration
	Count    int
}

// RunWorker resolves and reads cfg.Query once per tick and sends the result.
// It closes out when ctx is done or Count ticks have been sent.
func RunWorker(ctx context.Context, loc *locate.Locator, mem memscan.Reader, cfg WorkerConfig, out chan<- memloc.Update) {
	defer close(out)

	tick := time.NewTicker(cfg.Interval)
	defer tick.Stop()

	for sent := 0; cfg.Count == 0 || sent < cfg.Count; sent++ {
		u := poll(ctx, loc, mem, cfg)

		select {
		case <-ctx.Done():
			return
		case out <- u:
		}

		if cfg.Count > 0 && sent+1 >= cfg.Count {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func poll(ctx context.Context, loc *locate.Locator, mem memscan.Reader, cfg WorkerConfig) memloc.Update {
	addr, err := loc.Resolve(ctx, cfg.Query)
	if err != nil {
		return memloc.Update{Error: "unable to resolve address: " + err.Error()}
	}

	v, err := value.Read(mem, addr.Value, cfg.Type)
	if err != nil {
		return memloc.Update{Error: "unable to read memory: " + err.Error()}
	}

	return memloc.Update{Online: true, Address: addr, Value: v}
}
