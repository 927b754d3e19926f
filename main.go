package main

import "timer2ticket/cmd"

func main() {
	cmd.Execute()
}
