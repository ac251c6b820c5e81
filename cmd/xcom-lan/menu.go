package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankohanse/xcom-go/xcom"
)

var (
	menuFamily string
	menuParent uint32
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Browse the datapoint dictionary",
	Long: `Menu lists the datapoint dictionary as the device display would
show it, one menu level at a time. It needs no gateway connection.

Examples:
  # Top-level menus and infos of the Xtender family
  xcom-lan menu --family xt

  # Contents of the BASIC SETTINGS menu
  xcom-lan menu --family xt --parent 1100`,

	RunE: runMenu,
}

func init() {
	menuCmd.Flags().StringVar(&menuFamily, "family", "", "Family to list (default all)")
	menuCmd.Flags().Uint32Var(&menuParent, "parent", 0, "Menu node to list the children of (0 is the root)")
}

func runMenu(cmd *cobra.Command, args []string) error {
	ds, err := loadDataset()
	if err != nil {
		return err
	}

	familyID := menuFamily
	if familyID != "" {
		fam, err := xcom.FamilyByID(familyID)
		if err != nil {
			return err
		}
		familyID = fam.IDForNr
	}

	items := ds.GetMenuItems(menuParent, familyID)
	if len(items) == 0 {
		fmt.Println("No entries")
		return nil
	}

	out := NewFormatter(outputFmt)
	headers := []string{"NR", "NAME", "LEVEL", "FORMAT", "UNIT"}
	rows := make([][]string, 0, len(items))
	for _, dp := range items {
		name := dp.Name
		if dp.Format == xcom.FormatMenu {
			name += " >"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", dp.Nr),
			name,
			dp.Level.String(),
			dp.Format.String(),
			dp.Unit,
		})
	}
	out.PrintTable(headers, rows)

	return nil
}
