package cmd

import (
	"fmt"

	"github.com/s-hammon/memloc/internal/sig"
	"github.com/s-hammon/memloc/internal/value"
	"github.com/s-hammon/p"
	"github.com/spf13/cobra"
)

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <pid> <query> <type>",
		Short: "resolve a query once and print the value there",
		Long:  "Resolve a query once and print the value at the result.\n\n<type> is " + typeHelp() + ".",
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

			t, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			addr, err := t.loc.Resolve(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("unable to resolve address: %w", err)
			}

			v, err := value.Read(t.mem, addr.Value, typ)
			if err != nil {
				return fmt.Errorf("unable to read memory: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.Format("%s = %s", addr, v))
			return err
		},
	}
}
