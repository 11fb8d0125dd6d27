package main

import (
	"log"

	"github.com/paydeck/packager/core/controlplane/gateway"
	"github.com/paydeck/packager/core/infra/buildinfo"
	"github.com/paydeck/packager/core/infra/config"
)

func main() {
	log.Println("packager gateway starting...")
	buildinfo.Log("packager-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("packager gateway error: %v", err)
	}
}
