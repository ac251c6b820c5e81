package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankohanse/xcom-go/xcom"
)

var (
	scanFamilies []string
	scanTimeout  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover devices on the Xcom bus",
	Long: `Scan probes each device family's address range and reports the
devices that answer. Scanning stops per family at the first silent
address, so it finishes quickly on small installations.

Examples:
  # Scan all families
  xcom-lan scan

  # Scan only Xtenders and the battery monitor
  xcom-lan scan --families xt,bsp`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanFamilies, "families", nil, "Families to scan (default all)")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 2*time.Second, "Per-probe timeout")
}

func runScan(cmd *cobra.Command, args []string) error {
	srv, err := createServer()
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Stop()

	ctx := context.Background()
	if err := startAndAwaitGateway(ctx, srv); err != nil {
		return err
	}

	opts := []xcom.DiscoverOption{
		xcom.WithDiscoverTimeout(scanTimeout),
	}
	if len(scanFamilies) > 0 {
		opts = append(opts, xcom.WithFamilies(scanFamilies...))
	}

	devices, err := srv.Discover(ctx, opts...)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	out := NewFormatter(outputFmt)
	switch OutputFormat(outputFmt) {
	case FormatJSON:
		out.Println("[")
		for i, d := range devices {
			sep := ","
			if i == len(devices)-1 {
				sep = ""
			}
			out.Printf(`  {"code": %q, "addr": %d, "family": %q, "model": %q}%s`+"\n",
				d.Code, d.Addr, d.FamilyID, d.FamilyModel, sep)
		}
		out.Println("]")
	case FormatCSV:
		for _, d := range devices {
			out.Printf("%s,%d,%s,%s,%s\n", d.Code, d.Addr, d.FamilyID, d.FamilyModel, d.DeviceModel)
		}
	default:
		headers := []string{"CODE", "ADDR", "FAMILY", "MODEL", "DEVICE"}
		rows := make([][]string, 0, len(devices))
		for _, d := range devices {
			rows = append(rows, []string{
				d.Code,
				fmt.Sprintf("%d", d.Addr),
				d.FamilyID,
				d.FamilyModel,
				d.DeviceModel,
			})
		}
		out.PrintTable(headers, rows)
	}

	return nil
}
