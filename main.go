package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/amarcoder01/typemaster-race/internal/config"
	"github.com/amarcoder01/typemaster-race/internal/handlers"
	"github.com/amarcoder01/typemaster-race/internal/middleware"
	"github.com/amarcoder01/typemaster-race/internal/race"

	"github.com/MadAppGang/httplog"
	"github.com/coder/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	if os.Getenv("DEBUG") == "yes" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		middleware.CORS = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
		})
		middleware.HTTPLogger = httplog.LoggerWithConfig(httplog.LoggerConfig{
			RouterName: "TypeMasterRace",
			Formatter: httplog.ChainLogFormatter(
				httplog.DefaultLogFormatter,
				httplog.RequestHeaderLogFormatter, httplog.RequestBodyLogFormatter,
				httplog.ResponseHeaderLogFormatter, httplog.ResponseBodyLogFormatter),
			CaptureBody: true,
		})
	}
}

func main() {
	cfg, err := config.LoadConfig("") // TODO: config flags
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	races := race.NewRegistry()
	acceptOpts := websocket.AcceptOptions{
		InsecureSkipVerify: true, // Accepting all origins
	}

	createRaceHandler := handlers.CreateRaceHandler(cfg, races)
	snapshotHandler := handlers.SnapshotHandler(races)
	raceHandler := handlers.NewRaceHandler(cfg, races, acceptOpts)

	http.Handle("POST /race", middleware.ApplyDefaults(createRaceHandler))
	http.Handle("GET /race/{code}", middleware.ApplyDefaults(snapshotHandler))
	http.Handle("GET /race/{code}/ws", middleware.ApplyDefaults(raceHandler))

	srv := http.Server{
		Addr:         cfg.Addr,
		Handler:      http.DefaultServeMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("listening")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
