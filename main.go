// The main package for the catcrawl executable.
package main

import (
	"github.com/dcarver/catcrawl/cmd"
)

func main() {
	cmd.Execute()
}
