package cmd

import (
	"fmt"

	"github.com/s-hammon/memloc/internal/memscan"
	"github.com/spf13/cobra"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pid>",
		Short: "print the mapped regions of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := opts.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			regions, err := t.mem.Regions(memscan.RegionFilter{Module: opts.module})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range regions {
				if _, err := fmt.Fprintln(out, r.String()); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
