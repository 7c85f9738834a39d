// icectl is a standalone CLI for exercising goice's gathering and
// transport layers -- harvesting candidates, listing sessions on a
// short-lived acceptor, and inspecting a dispatcher tree. goice exposes
// no RPC daemon to dial into, so every subcommand here drives the
// library in-process instead of talking to a running iced over the
// network.
package main

import "github.com/netice/goice/cmd/icectl/commands"

func main() {
	commands.Execute()
}
