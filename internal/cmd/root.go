package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/s-hammon/memloc/internal/locate"
	"github.com/s-hammon/memloc/internal/logging"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/value"
	"github.com/spf13/cobra"
)

const queryHelp = `A query is either a raw address or an IDA-style signature:

  0x7ffd1a2f0010
  48 8B 05 ?? ?? ?? ??
  48 8B 05 ?? ?? ?? ??@3/7                  follow the rip-relative operand
  48 8B 05 ?? ?? ?? ??@3/7 -> 0x210 -> 0x520  then walk a pointer chain

Every chain offset but the last is dereferenced; the last is added to the
final pointer. Quote the query so the shell passes it as one argument.`

type options struct {
	module        string
	includePseudo bool
	pointerSize   int
	chunkSize     int
}

func (o *options) filter() memscan.RegionFilter {
	return memscan.RegionFilter{
		Module:     o.module,
		SkipPseudo: !o.includePseudo,
		Readable:   true,
	}
}

// target is an attached process plus a locator configured from the flags.
type target struct {
	mem *memscan.ProcessMemory
	loc *locate.Locator
	log *log.Logger
}

func (o *options) open(cmd *cobra.Command, pidArg string) (*target, error) {
	pid, err := parsePid(pidArg)
	if err != nil {
		return nil, err
	}

	pm := memscan.NewProcessMemory(pid)
	if err := pm.Open(); err != nil {
		return nil, fmt.Errorf("unable to open process memory: %v", err)
	}

	lg := logging.New(cmd.ErrOrStderr())
	lg.Debug("attached", "pid", pid)

	loc := locate.New(pm,
		locate.WithFilter(o.filter()),
		locate.WithLogger(lg),
		locate.WithPointerSize(o.pointerSize),
		locate.WithChunkSize(o.chunkSize),
	)

	return &target{mem: pm, loc: loc, log: lg}, nil
}

func (t *target) Close() {
	_ = t.mem.Close()
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "memloc",
		Short:         "locate and read values in a running process",
		Long:          "memloc locates values in a live process by address or byte signature.\n\n" + queryHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.module, "module", "", "only scan mappings whose path contains this")
	flags.BoolVar(&opts.includePseudo, "include-anon", false, "also scan anonymous, [heap]/[stack] and /dev mappings")
	flags.IntVar(&opts.pointerSize, "pointer-size", 8, "pointer width of the target in bytes (4 or 8), for chains and the pointer type")
	flags.IntVar(&opts.chunkSize, "chunk-size", memscan.DefaultChunkSize, "bytes read per scan step")

	root.AddCommand(
		newReadCmd(opts),
		newWatchCmd(opts),
		newFindCmd(opts),
		newFindFunctionCmd(opts),
		newListCmd(opts),
	)

	return root
}

func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

func typeHelp() string {
	return "one of " + strings.Join(value.Names(), ", ")
}
