package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blcknd/huddle/internal/adapters/httpapi"
	"github.com/blcknd/huddle/internal/adapters/rtc"
	"github.com/blcknd/huddle/internal/config"
	"github.com/blcknd/huddle/internal/domain"
	"github.com/blcknd/huddle/internal/mesh"
	"github.com/blcknd/huddle/internal/mesh/health"
	"github.com/blcknd/huddle/internal/signaling"
)

var joinCmd = &cobra.Command{
	Use:   "join [room]",
	Short: "Join a room and connect to everyone in it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringP("server", "s", "", "signaling server URL")
	joinCmd.Flags().StringP("username", "u", "", "display name")
	joinCmd.Flags().StringP("password", "p", "", "room password")
	joinCmd.Flags().Bool("create", false, "create the room (become moderator)")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		cfg.ServerURL = s
	}
	if u, _ := cmd.Flags().GetString("username"); u != "" {
		cfg.Username = u
	}
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		cfg.Password = p
	}
	if len(args) == 1 {
		cfg.Room = args[0]
	}
	create, _ := cmd.Flags().GetBool("create")

	clientID := uuid.NewString()
	username := cfg.Username
	if username == "" {
		username = "User_" + clientID[:8]
	}

	client := signaling.NewClient(cfg.ServerURL)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	factory := rtc.NewFactory(cfg.ICEServers)
	sampler := health.NewSampler(cfg.HealthEvery)
	sampler.OnReport(func(id domain.ParticipantID, r health.Report) {
		log.Debug().
			Str("peer", string(id)).
			Dur("rtt", r.RTT).
			Float64("loss", r.LossPercent).
			Str("tier", r.Tier.String()).
			Msg("link quality")
	})

	orch := mesh.New(
		domain.ParticipantID(clientID),
		username,
		mesh.Config{GraceWindow: cfg.GraceWindow, RestartAttempts: cfg.RestartTries},
		client,
		factory,
		sampler,
	)
	orch.Hooks = mesh.Events{
		OnPeerConnected: func(id domain.ParticipantID, name string) {
			log.Info().Str("peer", string(id)).Str("username", name).Msg("participant connected")
		},
		OnPeerClosed: func(id domain.ParticipantID) {
			log.Info().Str("peer", string(id)).Msg("participant disconnected")
		},
		OnChat: func(username, text string, _ float64) {
			log.Info().Str("from", username).Msg(text)
		},
		OnPasswordRequired: func(room domain.RoomID) {
			log.Error().Str("room", string(room)).Msg("room requires a password, re-run with --password")
			cancel()
		},
		OnEvicted: func(reason string) {
			log.Warn().Str("reason", reason).Msg("removed from room")
			cancel()
		},
	}

	go orch.Run(ctx)
	go sampler.Run(ctx)
	go func() {
		for msg := range client.Incoming() {
			orch.Deliver(msg)
		}
		log.Info().Msg("signaling channel closed")
		cancel()
	}()

	if err := orch.Register(); err != nil {
		return err
	}
	if create {
		err = orch.CreateRoom(domain.RoomID(cfg.Room), cfg.Password)
	} else {
		err = orch.JoinRoom(domain.RoomID(cfg.Room), cfg.Password)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
		Handler: httpapi.SetupRouter(cfg, orch, sampler),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	log.Info().Str("room", cfg.Room).Str("username", username).Msg("joined, ctrl-c to leave")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}
	log.Info().Msg("left room")
	return nil
}
