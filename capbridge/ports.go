package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

func newPortsCmd() *cobra.Command {
	var table bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports to help pick the sensor's device path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := enumerator.GetDetailedPortsList()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}
			if table {
				renderPortsTable(cmd.OutOrStdout(), ports)
			} else {
				renderPorts(cmd.OutOrStdout(), ports)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&table, "table", "t", false, "Display output in a styled table format")
	return cmd
}

// portKind describes how the port is attached.
func portKind(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return "serial"
	}
	return fmt.Sprintf("usb %s:%s", p.VID, p.PID)
}

func renderPorts(w io.Writer, ports []*enumerator.PortDetails) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Fprintln(w, p.Name)
	}
}

func renderPortsTable(w io.Writer, ports []*enumerator.PortDetails) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}

	const (
		nameWidth = 20
		kindWidth = 16
		snWidth   = 20
	)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240"))
	cellStyle := lipgloss.NewStyle().PaddingRight(2)

	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(ports))
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-*s %-*s %-*s %s",
		nameWidth, "Port", kindWidth, "Type", snWidth, "Serial", "Product")))
	for _, p := range ports {
		fmt.Fprintln(w, cellStyle.Render(fmt.Sprintf("%-*s %-*s %-*s %s",
			nameWidth, p.Name, kindWidth, portKind(p), snWidth, p.SerialNumber, p.Product)))
	}
}
