package main

import (
	"fmt"
	"os"

	"github.com/FreeProject089/PortManager/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
