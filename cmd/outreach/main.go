package main

import "outreach-control/cmd/outreach/cmd"

func main() {
	cmd.Execute()
}
