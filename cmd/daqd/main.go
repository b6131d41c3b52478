// Command daqd is the PET-7H24M continuous-ingest DAQ pipeline entrypoint:
// it loads configuration, dials Postgres and Redis, wires the Session
// Controller, and serves the HTTP control surface.
package main

import (
	"context"
	"os"
	"strconv"

	"daq/internal/config"
	"daq/internal/data"
	"daq/internal/device"
	"daq/internal/httpapi"
	"daq/internal/logging"
	"daq/internal/session"

	"go.uber.org/zap"
)

func main() {
	log, err := logging.New(os.Getenv("DAQ_ENV") != "production")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfgDir := getEnv("DAQ_CONFIG_DIR", "API")
	outputRoot := getEnv("DAQ_OUTPUT_ROOT", "output/PET-7H24M")

	cfg, err := config.Load(cfgDir)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	ctx := context.Background()
	conn, cleanup, err := data.Connect(ctx, data.Config{
		InContainer: os.Getenv("DAQ_IN_CONTAINER") == "true",
		Host:        cfg.SQL.Host,
		Port:        strconv.Itoa(cfg.SQL.Port),
		User:        cfg.SQL.User,
		Password:    cfg.SQL.Password,
		Database:    cfg.SQL.Database,
	}, log)
	if err != nil {
		log.Fatal("connecting to postgres/redis", zap.Error(err))
	}
	defer cleanup()

	transportNew := func() device.Transport { return device.NewTCPTransport() }
	if os.Getenv("DAQ_SIMULATE") == "true" {
		transportNew = func() device.Transport { return device.NewSimTransport() }
	}

	ctrl := session.New(cfg, cfgDir, outputRoot, transportNew, conn.DB, conn.Cache, log)

	srv := httpapi.New(ctrl, cfg, cfgDir, outputRoot, conn, log)

	addr := getEnv("DAQ_LISTEN_ADDR", ":8080")
	if err := srv.ListenAndServe(addr); err != nil {
		log.Fatal("http server exited", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
