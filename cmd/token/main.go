// Command token issues a bearer token for a caller identity, signed with the
// server's JWT_SECRET and JWT_ISSUER. It prints the token to stdout.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/atmx/prediction-ledger/internal/api"
	"github.com/atmx/prediction-ledger/internal/config"
	"github.com/atmx/prediction-ledger/internal/model"
)

func main() {
	caller := flag.String("caller", "", "caller identity placed in the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if *ttl <= 0 {
		logger.Error("ttl must be positive", "ttl", *ttl)
		os.Exit(2)
	}

	token, err := api.MintToken(
		api.AuthConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		time.Now(),
		model.Identity(*caller),
		*ttl,
	)
	if err != nil {
		logger.Error("minting token failed", "caller", *caller, "err", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
