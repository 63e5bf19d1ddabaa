// gatewayd is the room gateway daemon: it owns the backing store connection
// and runs sync sessions on behalf of attached room pages.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/festivetech/carolsync/internal/gateway"
	"github.com/festivetech/carolsync/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "gatewayd",
		Short:         "carolsync room gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	cmd.Flags().String("listen", ":8080", "listen address")
	cmd.Flags().String("backend", store.BackendMemory, "store backend: memory, redis or nats")
	cmd.Flags().String("redis-addrs", "localhost:6379", "comma-separated redis endpoints")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().String("nats-url", "nats://localhost:4222", "nats server url")
	cmd.Flags().String("nats-bucket", "carolsync", "nats kv bucket")
	cmd.Flags().Bool("debug", false, "debug logging")

	v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("CAROLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func run(v *viper.Viper) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if v.GetBool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	st, err := store.Open(store.Config{
		Backend:       v.GetString("backend"),
		RedisAddrs:    strings.Split(v.GetString("redis-addrs"), ","),
		RedisPassword: v.GetString("redis-password"),
		NATSURL:       v.GetString("nats-url"),
		NATSBucket:    v.GetString("nats-bucket"),
	})
	if err != nil {
		log.Error().Err(err).Msg("opening backing store")
		return err
	}
	defer st.Close()

	gw := gateway.NewGateway(st, prometheus.DefaultRegisterer)
	srv := &http.Server{
		Addr:    v.GetString("listen"),
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("backend", v.GetString("backend")).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
