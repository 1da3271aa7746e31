package main

import (
	"context"
	"log"
	"os"

	"github.com/villagecompute/posoffline/internal/buildinfo"
	"github.com/villagecompute/posoffline/internal/client/cli"
	"github.com/villagecompute/posoffline/internal/client/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := cli.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)
}
