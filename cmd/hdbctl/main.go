package main

import (
	"os"

	"hdbresale/server/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
