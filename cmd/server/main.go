package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/auth"
	"relay/internal/config"
	"relay/internal/router"
	"relay/internal/server"
	"relay/internal/store"
)

func main() {
	flagSet, _, _ := config.NewFlagSet("relay")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.LoadConfig(flagSet)
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	st := store.New()

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "relay",
	}
	cache := auth.NewVerificationCache(time.Minute)

	r := server.NewRouter(server.Deps{
		Store:       st,
		TokenConfig: tokenCfg,
		Cache:       cache,
		Router:      router.New(),
	})

	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(runGuarded(cfg, r))
}

// runGuarded recovers a panic in the accept loop itself and logs it before
// exiting. Handler-path panics are already caught per-connection inside
// internal/wsserver and by gin.Recovery() for HTTP handlers, so this only
// guards against a programming error in Run's own setup.
func runGuarded(cfg config.Config, handler *gin.Engine) error {
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("server: fatal panic in accept loop: %v", r)
			}
		}()
		runErr = server.Run(cfg, handler)
	}()
	return runErr
}
