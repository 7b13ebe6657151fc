package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server"
	"github.com/dmitrijs2005/waterauth/internal/server/config"
	"github.com/dmitrijs2005/waterauth/internal/server/retention"
)

func runSweep(ctx context.Context, out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, os.Stderr)

	storage, err := server.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	archiver, err := server.NewArchiver(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := retention.NewSweeper(storage.Tx, storage.Repositories, archiver, cfg.Retention.Age, logger).Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "removed %d otp rows and %d session rows\n", res.Otps, res.Sessions)
	return nil
}
