package main

import "grimm.is/mudgate/cmd"

func main() {
	cmd.Execute()
}
