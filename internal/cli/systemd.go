package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carapace-ai/carapace/internal/systemd"
)

var (
	unitBinary  string
	unitAddr    string
	unitConfig  string
	unitJournal string
	unitOutput  string
)

func init() {
	rootCmd.AddCommand(systemdUnitCmd)
	systemdUnitCmd.Flags().StringVar(&unitBinary, "bin", "", "Installed path of the carapace binary")
	systemdUnitCmd.Flags().StringVar(&unitAddr, "addr", "", "Listen address for serve")
	systemdUnitCmd.Flags().StringVar(&unitConfig, "config", "", "Config path baked into the unit")
	systemdUnitCmd.Flags().StringVar(&unitJournal, "journal", "", "Journal path baked into the unit")
	systemdUnitCmd.Flags().StringVarP(&unitOutput, "output", "o", "", "Write the unit to a file instead of stdout")
}

var systemdUnitCmd = &cobra.Command{
	Use:   "systemd-unit",
	Short: "Render a systemd service unit for the sidecar",
	Long: "Prints a hardened systemd unit running `carapace serve` with the given\n" +
		"flags. Write it to /etc/systemd/system/carapace.service and run\n" +
		"`systemctl daemon-reload && systemctl enable --now carapace`.",
	RunE: runSystemdUnit,
}

func runSystemdUnit(cmd *cobra.Command, args []string) error {
	unit := systemd.Unit(systemd.UnitOptions{
		Binary:      unitBinary,
		Addr:        unitAddr,
		ConfigPath:  unitConfig,
		JournalPath: unitJournal,
	})

	if unitOutput == "" {
		fmt.Print(unit)
		return nil
	}
	if err := os.WriteFile(unitOutput, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Printf("Wrote %s\n", unitOutput)
	return nil
}
