package main

import (
	"fmt"
	"log"
	"time"

	"github.com/seanblong/docsearch/internal/auth"
	"github.com/seanblong/docsearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("docsearch-token", pflag.ExitOnError)
	subject := fs.String("subject", "", "Token subject, e.g. the calling service")
	scopes := fs.StringSlice("scope", nil, "Scopes carried by the token (repeatable); \"ingest\" allows /ingest, /ingest-url and DELETE /files")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "Token lifetime")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if *subject == "" {
		log.Fatal("--subject is required")
	}

	// Tokens are minted even when the API runs with auth disabled.
	auth.InitializeAuth(cfg.Auth.JwtSecret, true)
	tok, err := auth.GenerateJWT(*subject, *scopes, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	exp := time.Now().Add(*ttl)
	log.Printf("token for %q expires %s", *subject, exp.Format(time.RFC3339))
	fmt.Println(tok)
}
