package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/proctor-go/internal/agent"
	"github.com/tphakala/proctor-go/internal/conf"
	"github.com/tphakala/proctor-go/internal/device"
)

const enumerateTimeout = 10 * time.Second

// Command creates the command that prints the device inventory with the
// classification the device detector would apply.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached devices and their classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
			defer cancel()

			classifier := device.NewClassifier(agent.Patterns(settings))
			devices, errs := device.Inventory(ctx, agent.Enumerators(settings), classifier)
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), devices)
			}
			return writeTable(cmd.OutOrStdout(), devices)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the inventory as JSON")
	return cmd
}

func writeJSON(w io.Writer, devices []device.Info) error {
	if devices == nil {
		devices = []device.Info{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func writeTable(w io.Writer, devices []device.Info) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tID\tNAME\tCLASS")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Source, d.ID, d.DisplayName, d.Classification)
	}
	return tw.Flush()
}
