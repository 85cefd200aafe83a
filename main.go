// ./main.go
package main

import (
	"github.com/stallwire/stallwire/cmd"
)

func main() {
	cmd.Execute()
}
