package main

import "casequeue/cmd"

func main() {
	cmd.Run()
}
