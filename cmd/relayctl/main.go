// relayctl is the CLI client for the relayd daemon's local API.
package main

import "github.com/relaymesh/relaymesh/cmd/relayctl/commands"

func main() {
	commands.Execute()
}
