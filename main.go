package main

import "github.com/dhcgn/mailbox-export/cmd"

func main() {
	cmd.Execute()
}
