// cmd/seed creates the demo catalogue and prints a bearer token for a till
// operator. Development only: production tokens come from the identity provider.
//
// Usage: go run ./cmd/seed -role cashier -name "Lucía"
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"evapos/internal/config"
	"evapos/internal/infra"
	"evapos/internal/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type demoProduct struct {
	sku, name, price string
	stock            int
}

var catalogue = []demoProduct{
	{"DEMO-0001", "Camiseta técnica", "24.90", 40},
	{"DEMO-0002", "Calcetines running (pack 3)", "9.95", 120},
	{"DEMO-0003", "Balón de fútbol", "60.50", 15},
	{"DEMO-0004", "Botella isotérmica 750ml", "18.00", 30},
}

func main() {
	role := flag.String("role", middleware.RoleCashier, "operator role: cashier, supervisor or admin")
	name := flag.String("name", "Operador Demo", "operator display name")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	skipProducts := flag.Bool("no-products", false, "only print the token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	if !*skipProducts {
		seedProducts(cfg.DatabaseURL)
	}

	claims := middleware.JWTClaims{
		UserID:   uuid.NewString(),
		Username: "demo-" + *role,
		Name:     *name,
		Role:     *role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "evapos-seed",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(*ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}

func seedProducts(dsn string) {
	db, err := infra.NewDatabase(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect error")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, p := range catalogue {
		err := db.WithContext(ctx).Exec(`
			INSERT INTO products (id, sku, name, price, stock, active)
			VALUES (?, ?, ?, ?, ?, true)
			ON CONFLICT (sku) DO UPDATE
			SET name = EXCLUDED.name,
			    price = EXCLUDED.price,
			    stock = EXCLUDED.stock,
			    active = true,
			    updated_at = NOW()
		`, uuid.New(), p.sku, p.name, p.price, p.stock).Error
		if err != nil {
			log.Fatal().Err(err).Str("sku", p.sku).Msg("insert error")
		}
	}
	log.Info().Int("products", len(catalogue)).Msg("demo catalogue ready")
}
