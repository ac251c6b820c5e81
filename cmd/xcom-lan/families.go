package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankohanse/xcom-go/xcom"
)

var familiesCmd = &cobra.Command{
	Use:   "families",
	Short: "List the known device families",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := NewFormatter(outputFmt)
		headers := []string{"ID", "MODEL", "MULTICAST", "ADDRESSES", "PARAMS", "INFOS"}
		var rows [][]string
		for _, f := range xcom.Families() {
			infos := "-"
			if f.NrInfosStart != 0 {
				infos = fmt.Sprintf("%d-%d", f.NrInfosStart, f.NrInfosEnd)
			}
			rows = append(rows, []string{
				f.ID,
				f.Model,
				fmt.Sprintf("%d", f.AddrMulticast),
				fmt.Sprintf("%d-%d", f.AddrDevicesStart, f.AddrDevicesEnd),
				fmt.Sprintf("%d-%d", f.NrParamsStart, f.NrParamsEnd),
				infos,
			})
		}
		out.PrintTable(headers, rows)
		return nil
	},
}
