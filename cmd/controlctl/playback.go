package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/festivetech/carolsync/internal/control"
	"github.com/festivetech/carolsync/internal/syncer"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the rooms reporting under the sync code",
		RunE: func(cmd *cobra.Command, args []string) error {
			panel, cleanup, err := openPanel(v)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := panel.Connect(cmd.Context()); err != nil {
				return err
			}
			printRooms(panel.Rooms())
			return nil
		},
	}
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "live room status display",
		RunE: func(cmd *cobra.Command, args []string) error {
			panel, cleanup, err := openPanel(v)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := panel.Connect(cmd.Context()); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			panel.Run(ctx, func(views []control.RoomView) {
				fmt.Print("\033[H\033[2J")
				printRooms(views)
			})
			return nil
		},
	}
}

func newCommandCmd(v *viper.Viper, use, short string, kind syncer.CommandKind) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   use,
		Short: short + " (all rooms unless --room is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			panel, cleanup, err := openPanel(v)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := panel.Connect(cmd.Context()); err != nil {
				return err
			}
			switch kind {
			case syncer.CommandPlay:
				panel.Play(room)
			case syncer.CommandPause:
				panel.Pause(room)
			case syncer.CommandStop:
				panel.Stop(room)
			case syncer.CommandReset:
				panel.Reset(room)
			case syncer.CommandActivate:
				panel.Activate(room)
			}
			if room == "" {
				fmt.Printf("sent %s (broadcast)\n", use)
			} else {
				fmt.Printf("sent %s to %s\n", use, room)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "target room id")
	return cmd
}

func newSeekCmd(v *viper.Viper) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "seek <seconds>",
		Short: "move one room to an absolute position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[0], err)
			}
			if room == "" {
				return fmt.Errorf("seek requires --room")
			}
			panel, cleanup, err := openPanel(v)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := panel.Connect(cmd.Context()); err != nil {
				return err
			}
			panel.SeekTo(room, seconds)
			fmt.Printf("sought %s to %s\n", room, formatTime(seconds))
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "target room id")
	return cmd
}

func printRooms(views []control.RoomView) {
	if len(views) == 0 {
		fmt.Println("no rooms reporting")
		return
	}
	for _, view := range views {
		activated := ""
		if view.Status.IsActivated {
			activated = "  activated"
		}
		song := ""
		if view.Status.SongID != "" {
			song = "  " + view.Status.SongID
		}
		fmt.Printf("%-22s %-6s %s%s%s\n",
			view.Name, view.Color, formatTime(view.EffectiveTime), song, activated)
	}
}
