package main

import (
	"github.com/oshokin/rustc-artifact-fetcher/cmd/rustc-artifact-fetcher/cmd"
)

func main() {
	cmd.Execute()
}
