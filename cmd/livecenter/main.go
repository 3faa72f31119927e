package main

import "github.com/aussiebroadwan/livecenter/cmd/livecenter/cmd"

func main() {
	cmd.Execute()
}
