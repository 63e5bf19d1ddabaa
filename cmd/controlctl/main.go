// controlctl is the operator CLI: it connects to the backing store with a
// sync code and issues playback commands or watches room status.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/festivetech/carolsync/internal/control"
	"github.com/festivetech/carolsync/internal/store"
	"github.com/festivetech/carolsync/internal/syncer"
)

func main() {
	godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "controlctl",
		Short:         "carolsync control panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if v.GetBool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		},
	}

	pf := root.PersistentFlags()
	pf.String("code", "", "sync code")
	pf.String("backend", store.BackendMemory, "store backend: memory, redis or nats")
	pf.String("redis-addrs", "localhost:6379", "comma-separated redis endpoints")
	pf.String("redis-password", "", "redis password")
	pf.String("nats-url", "nats://localhost:4222", "nats server url")
	pf.String("nats-bucket", "carolsync", "nats kv bucket")
	pf.Bool("debug", false, "debug logging")

	v.BindPFlags(pf)
	v.SetEnvPrefix("CAROLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newStatusCmd(v),
		newWatchCmd(v),
		newCommandCmd(v, "play", "start playback", syncer.CommandPlay),
		newCommandCmd(v, "pause", "pause playback", syncer.CommandPause),
		newCommandCmd(v, "stop", "stop and rewind", syncer.CommandStop),
		newCommandCmd(v, "reset", "stop, rewind and deactivate", syncer.CommandReset),
		newCommandCmd(v, "activate", "set the activation flag", syncer.CommandActivate),
		newSeekCmd(v),
		newCodesCmd(),
	)
	return root
}

// openPanel connects a control panel for the configured code and backend.
// The returned cleanup tears the session and store down.
func openPanel(v *viper.Viper) (*control.Panel, func(), error) {
	code := v.GetString("code")
	if code == "" {
		return nil, nil, fmt.Errorf("a sync code is required (--code or CAROLSYNC_CODE)")
	}
	st, err := store.Open(store.Config{
		Backend:       v.GetString("backend"),
		RedisAddrs:    strings.Split(v.GetString("redis-addrs"), ","),
		RedisPassword: v.GetString("redis-password"),
		NATSURL:       v.GetString("nats-url"),
		NATSBucket:    v.GetString("nats-bucket"),
	})
	if err != nil {
		return nil, nil, err
	}
	session, err := syncer.NewSession(st, code, "control-panel")
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	panel := control.NewPanel(session)
	cleanup := func() {
		panel.Disconnect()
		st.Close()
	}
	return panel, cleanup, nil
}

// formatTime renders seconds as MM:SS.
func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
