package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/offlinegate/internal/app"
	"github.com/dmitrijs2005/offlinegate/internal/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	a, err := app.NewApp(cfg, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
