package main

import "github.com/cmdserve/cmdserve/cmd"

func main() {
	cmd.Execute()
}
