// Command circuitscope serves circuit graphs to the visual debugger and
// drives expansion sessions against them.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
