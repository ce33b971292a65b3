package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/pkg/config"
	"golang.org/x/term"
)

// profileCmd represents the profile command
var profileCmd = &cobra.Command{
	Use:   "profile [file]",
	Short: "Validate a GATT profile and print it",
	Long: `Parses a profile YAML file, validates UUIDs, properties, permissions and values, and
prints the resulting GATT table. Without a file the built-in profile is shown.

Examples:
  # Show the built-in profile
  blimp profile

  # Validate a custom profile
  blimp profile ./sensor.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	profile, err := config.LoadProfile(path)
	if err != nil {
		return err
	}
	services, err := profile.ServiceProfiles()
	if err != nil {
		return err
	}
	// Building the services catches duplicate characteristic UUIDs.
	for _, sp := range services {
		if _, err := peripheral.NewServiceFromProfile(sp); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	renderProfile(out, services, isTerminal(out))
	return nil
}

// isTerminal reports whether w is a terminal, which enables colored output.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderProfile prints services and their characteristics as an indented table.
func renderProfile(w io.Writer, services []*peripheral.ServiceProfile, colored bool) {
	svcColor := color.New(color.FgCyan, color.Bold)
	charColor := color.New(color.FgGreen)
	dimColor := color.New(color.Faint)
	for _, c := range []*color.Color{svcColor, charColor, dimColor} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	for _, svc := range services {
		fmt.Fprintf(w, "%s %s\n", svcColor.Sprintf("Service %s", svc.UUID), svc.Name)
		for _, c := range svc.Characteristics {
			fmt.Fprintf(w, "  %s %s\n", charColor.Sprintf("Characteristic %s", c.UUID), c.Name)
			fmt.Fprintf(w, "    %s %s\n", dimColor.Sprint("properties: "), strings.Join(peripheral.PropertyNames(c.Properties), ", "))
			fmt.Fprintf(w, "    %s %s\n", dimColor.Sprint("permissions:"), strings.Join(peripheral.PermissionNames(c.Permissions), ", "))
			if len(c.InitialValue) > 0 {
				fmt.Fprintf(w, "    %s 0x%X\n", dimColor.Sprint("value:      "), c.InitialValue)
			}
			if len(c.StringValues) > 0 {
				fmt.Fprintf(w, "    %s %s\n", dimColor.Sprint("values:     "), strings.Join(c.StringValues, ", "))
			}
		}
	}
}
