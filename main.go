package main

import "svcmonitor/cmd"

func main() {
	cmd.Execute()
}
