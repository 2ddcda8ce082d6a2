// Command verifychain recomputes every fiscal record hash and link and exits
// non-zero when the chain is broken. A broken chain is also halted, exactly
// as the API's verify endpoint does.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"evapos/internal/config"
	"evapos/internal/infra"
	"evapos/internal/repository"
	"evapos/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	asJSON := flag.Bool("json", false, "print the verification result as JSON")
	timeout := flag.Duration("timeout", 10*time.Minute, "upper bound for the whole walk")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	fiscal := service.NewFiscalService(
		repository.NewFiscalRecordRepository(db),
		repository.NewSaleRepository(db),
		nil, nil, nil,
		service.FiscalOptions{
			Enabled:     cfg.VerifactuEnabled,
			IssuerTaxID: cfg.VerifactuIssuerTaxID,
			IssuerName:  cfg.VerifactuIssuerName,
			SeedHash:    cfg.VerifactuSeedHash,
			QRBaseURL:   cfg.AEATQRBaseURL,
			Location:    cfg.Location(),
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := fiscal.VerifyChain(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("verification failed to run")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else if res.Valid {
		tail := "-"
		if res.TailInvoiceNo != nil {
			tail = *res.TailInvoiceNo
		}
		fmt.Printf("chain OK: %d records, tail %s (%s)\n", res.Checked, tail, res.TailHash)
	} else {
		fmt.Printf("chain BROKEN at %s: %s\n", *res.BrokenAt, *res.Reason)
	}

	if !res.Valid {
		os.Exit(2)
	}
}
