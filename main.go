package main

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/llehouerou/wavecore/internal/cli"
)

var version = ""

func appVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	os.Exit(cli.Execute(context.Background(), appVersion()))
}
