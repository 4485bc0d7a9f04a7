package main

import (
	"os"

	"github.com/cfuwib/insightbot/insight/admin/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
