package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/s-hammon/memloc/internal/elfsym"
	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/p"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest encodable x86 instruction.
const maxInstLen = 15

func newFindCmd(opts *options) *cobra.Command {
	var all, disasm bool

	cmd := &cobra.Command{
		Use:   "find <pid> <query>",
		Short: "resolve a query and print where it landed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := sig.ParseQuery(args[1])
			if err != nil {
				return err
			}

			t, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			out := cmd.OutOrStdout()
			if all {
				return findAll(cmd, t, q, out)
			}

			res, err := t.loc.Lookup(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("unable to resolve address: %w", err)
			}
			if !res.InRegion {
				return fmt.Errorf("unable to find containing memory region for address %s", res.Address)
			}

			fmt.Fprintln(out, p.Format("Found signature at %s in %s", res.Address, res.Region.Name()))
			if disasm && res.Match != nil {
				writeInstruction(out, t.mem, res.Match.Address.Value)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "report every match instead of the first")
	cmd.Flags().BoolVar(&disasm, "disasm", false, "print the x86-64 instruction at the match")

	return cmd
}

func findAll(cmd *cobra.Command, t *target, q sig.Query, out io.Writer) error {
	addrs, err := t.loc.ResolveAll(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("unable to resolve address: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s", memscan.ErrNoMatchFound, q)
	}

	regions, err := t.mem.Regions(memscan.RegionFilter{})
	if err != nil {
		return err
	}

	for _, a := range addrs {
		name := "<unmapped>"
		if r, ok := memscan.FindRegion(regions, a.Value); ok {
			name = r.Name()
		}
		fmt.Fprintln(out, p.Format("%s in %s", a, name))
	}

	return nil
}

func writeInstruction(w io.Writer, r memscan.Reader, addr uint64) {
	var buf []byte
	for n := maxInstLen; n > 0 && buf == nil; n-- {
		buf, _ = r.ReadMemory(addr, n)
	}

	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		fmt.Fprintln(w, p.Format("  %s: <undecodable: %v>", addrString(addr), err))
		return
	}

	fmt.Fprintln(w, p.Format("  %s: % X  %s", addrString(addr), buf[:inst.Len], x86asm.IntelSyntax(inst, addr, nil)))
}

func addrString(addr uint64) string {
	return sig.Address{Value: addr}.String()
}

func newFindFunctionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "find-function <pid> <name>",
		Short: "look up an exported function in the mapped ELF files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[1]

			t, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			regions, err := t.mem.Regions(memscan.RegionFilter{Module: opts.module})
			if err != nil {
				return err
			}

			locs := elfsym.FindFunction(regions, name, t.log)
			if len(locs) == 0 {
				return errors.New(p.Format("could not find function '%s'", name))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.Format("Found function '%s' at these locations:", name))
			for _, loc := range locs {
				line := p.Format("%s at %s", addrString(loc.Address), loc.Path)
				if loc.Demangled != loc.Name {
					line += p.Format(" (%s)", loc.Demangled)
				}
				fmt.Fprintln(out, line)
			}

			return nil
		},
	}
}
