package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect known and online devices",
	}

	cmd.AddCommand(deviceListCmd())
	cmd.AddCommand(deviceFilesCmd())
	cmd.AddCommand(deviceConnectionsCmd())
	cmd.AddCommand(deviceEnableCmd())
	cmd.AddCommand(deviceDisableCmd())

	return cmd
}

func deviceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List online devices",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			body, err := client.get(context.Background(), "/api/devices", nil)
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}

			var devices []deviceRow
			if err := json.Unmarshal(body, &devices); err != nil {
				return fmt.Errorf("decode devices: %w", err)
			}

			out, err := formatDevices(devices, outputFormat)
			if err != nil {
				return fmt.Errorf("format devices: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func deviceFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <device-id>",
		Short: "List files associated with a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body, err := client.get(context.Background(), "/api/files/"+args[0], nil)
			if err != nil {
				return fmt.Errorf("list device files: %w", err)
			}

			var files []fileRow
			if err := json.Unmarshal(body, &files); err != nil {
				return fmt.Errorf("decode files: %w", err)
			}

			out, err := formatFiles(files, outputFormat)
			if err != nil {
				return fmt.Errorf("format files: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func deviceEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <peer-id>",
		Short: "Allow a peer to be auto-dialed on rediscovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return setDeviceEnabled(args[0], true)
		},
	}
}

func deviceDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <peer-id>",
		Short: "Stop auto-dialing a peer on rediscovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return setDeviceEnabled(args[0], false)
		},
	}
}

func setDeviceEnabled(peerID string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	if _, err := client.patchJSON(context.Background(), "/api/devices/"+peerID+"/enabled", body); err != nil {
		return fmt.Errorf("set device enabled: %w", err)
	}

	if enabled {
		fmt.Println("enabled")
	} else {
		fmt.Println("disabled")
	}
	return nil
}

func deviceConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections <device-id>",
		Short: "Show the live session state for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body, err := client.get(context.Background(), "/api/connections/"+args[0], nil)
			if err != nil {
				return fmt.Errorf("list device connections: %w", err)
			}

			out, err := formatJSONValue(json.RawMessage(body))
			if err != nil {
				return fmt.Errorf("format connections: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
