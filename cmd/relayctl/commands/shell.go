package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"device list", "List online devices"},
	{"device files <id>", "List files associated with a device"},
	{"device connections <id>", "Show the live session state for a device"},
	{"device enable <id>", "Allow a peer to be auto-dialed on rediscovery"},
	{"device disable <id>", "Stop auto-dialing a peer on rediscovery"},
	{"file list [--tag <tag>]", "List transferred files"},
	{"file upload <path>", "Upload a local file into the blob store"},
	{"file download <id> <dest>", "Download a transferred file"},
	{"file rename <id> <name>", "Rename a transferred file"},
	{"file tag <id> <tag>...", "Replace a file's tag set"},
	{"file rm <id>", "Delete a transferred file"},
	{"tag list", "List known tags"},
	{"tag add <name>", "Create a tag"},
	{"tag rm <name>", "Delete a tag"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive relayctl shell",
		Long:  "Launches a simple REPL that accepts relayctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("relayctl> ")

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp()
				case line != "":
					args := strings.Fields(line)
					rootCmd.SetArgs(args)

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(os.Stderr, "Error:", err)
					}
				}

				fmt.Print("relayctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			return nil
		},
	}
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner() {
	fmt.Println("relayctl interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()

	for _, cmd := range shellCommands {
		fmt.Printf("  %-30s %s\n", cmd.name, cmd.desc)
	}

	fmt.Println()
}
