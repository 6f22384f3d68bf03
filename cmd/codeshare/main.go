package main

import (
	"flag"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	codeshare "github.com/codeshare-dev/codeshare"
	"github.com/codeshare-dev/codeshare/internal"
	"github.com/codeshare-dev/codeshare/relay"
	"github.com/codeshare-dev/codeshare/session"
)

const version = "0.1.0"

var (
	flagBindAddr   = flag.String("port", ":4000", "Bind address")
	flagSessionTTL = flag.Duration("session-ttl", 0, "Expire sessions this long after their last activity. 0 disables expiry.")
	flagProm       = flag.Bool("prom", false, "Expose prometheus metrics on /metrics")
	flagSentryDSN  = flag.String("sentry-dsn", "", "Sentry DSN to report errors to")
	flagOTLPURL    = flag.String("otlp-url", "", "OTLP HTTP endpoint to export traces to")
	flagOTLPUser   = flag.String("otlp-user", "", "OTLP basic auth username")
	flagOTLPPass   = flag.String("otlp-pass", "", "OTLP basic auth password")
	flagDebug      = flag.Bool("debug", false, "Enable trace logging")
)

func main() {
	flag.Parse()
	if *flagDebug {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *flagSentryDSN != "" {
		log.Info().Msg("initialising sentry")
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     *flagSentryDSN,
			Release: "codeshare@" + version,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to initialise sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	if *flagOTLPURL != "" {
		log.Info().Str("otlp", *flagOTLPURL).Msg("configuring OTLP")
		if err := internal.ConfigureOTLP(*flagOTLPURL, *flagOTLPUser, *flagOTLPPass, version); err != nil {
			log.Fatal().Err(err).Msg("failed to configure OTLP")
		}
	}

	store := session.NewStore(*flagSessionTTL)
	store.Start()
	defer store.Stop()

	rl := relay.NewRelay(store)
	rl.Start()
	defer rl.Close()

	h := codeshare.NewHandler(store, rl, *flagProm)
	codeshare.RunServer(h, *flagBindAddr)
}
