package main

import (
	"mandi-monitor/cmd"
)

func main() {
	cmd.Execute()
}
