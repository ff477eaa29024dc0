package main

import "github.com/vitacare/concierge/cmd"

func main() {
	cmd.Execute()
}
