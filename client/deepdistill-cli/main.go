package main

import "DeepDistill/client/deepdistill-cli/cmd"

func main() {
	cmd.Execute()
}
