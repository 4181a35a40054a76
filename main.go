package main

import "github.com/AvaProtocol/chainflow/cmd"

func main() {
	cmd.Execute()
}
