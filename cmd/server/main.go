package main

import (
	"context"
	"log"
	"os"

	"github.com/villagecompute/posoffline/internal/buildinfo"
	"github.com/villagecompute/posoffline/internal/server"
	"github.com/villagecompute/posoffline/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
