package main

import "github.com/chainforge/node/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
