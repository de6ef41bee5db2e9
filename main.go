package main

import "github.com/mcastellin/golang-mastery/phifd/cmd"

func main() {
	cmd.Execute()
}
