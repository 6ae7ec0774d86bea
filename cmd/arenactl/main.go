// arenactl is a small driver for the arena library: list rooms for a
// game, host a room, or join one, printing session events as they
// arrive. Configuration comes from the environment (.env supported).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kako-jun/nostr-arena/arena"
	"github.com/kako-jun/nostr-arena/logger"
	"github.com/kako-jun/nostr-arena/qr"
)

var envs = struct {
	GameID     string
	Relays     string
	SecretKey  string
	BaseURL    string
	MaxPlayers string
	StartMode  string
	QRFile     string
}{}

func loadEnvs() {
	godotenv.Load()
	envs.GameID = os.Getenv("ARENA_GAME_ID")
	envs.Relays = os.Getenv("ARENA_RELAYS")
	envs.SecretKey = os.Getenv("ARENA_SECRET_KEY")
	envs.BaseURL = os.Getenv("ARENA_BASE_URL")
	envs.MaxPlayers = os.Getenv("ARENA_MAX_PLAYERS")
	envs.StartMode = os.Getenv("ARENA_START_MODE")
	envs.QRFile = os.Getenv("ARENA_QR_FILE")
}

func buildConfig() (arena.Config, error) {
	cfg := arena.NewConfig(envs.GameID)
	if envs.Relays != "" {
		cfg.Relays = strings.Split(envs.Relays, ",")
	}
	cfg.BaseURL = envs.BaseURL
	if envs.MaxPlayers != "" {
		n, err := strconv.Atoi(envs.MaxPlayers)
		if err != nil {
			return cfg, fmt.Errorf("ARENA_MAX_PLAYERS: %w", err)
		}
		cfg.MaxPlayers = n
	}
	switch envs.StartMode {
	case "", "auto":
		cfg.StartMode = arena.StartAuto
	case "ready":
		cfg.StartMode = arena.StartReady
	case "countdown":
		cfg.StartMode = arena.StartCountdown
	case "host":
		cfg.StartMode = arena.StartHost
	default:
		return cfg, fmt.Errorf("ARENA_START_MODE: unknown mode %q", envs.StartMode)
	}
	return cfg, nil
}

func main() {
	loadEnvs()
	log := logger.Component("arenactl")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: arenactl <list|host|join ROOM_ID>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx)
	case "host":
		err = runSession(ctx, "")
	case "join":
		if len(os.Args) < 3 {
			err = fmt.Errorf("join needs a room id")
			break
		}
		err = runSession(ctx, os.Args[2])
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runList(ctx context.Context) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	rooms, err := arena.ListRoomsOnRelays(ctx, cfg.GameID, cfg.Relays, arena.DiscoverOptions{Limit: 20})
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		fmt.Println("no open rooms")
		return nil
	}
	for _, r := range rooms {
		fmt.Printf("%-8s %-9s %d/%d host=%s\n", r.RoomID, r.Status, r.PlayerCount, r.MaxPlayers, short(r.HostPubkey))
	}
	return nil
}

func runSession(ctx context.Context, joinRoomID string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	var a *arena.Arena
	if envs.SecretKey != "" {
		a, err = arena.NewWithSecretKey(cfg, envs.SecretKey)
	} else {
		a, err = arena.New(cfg)
	}
	if err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		return err
	}
	defer a.Disconnect()

	if joinRoomID == "" {
		roomID, err := a.Create(ctx)
		if err != nil {
			return err
		}
		url, _ := a.GetRoomURL(ctx)
		fmt.Printf("room %s\njoin url: %s\n", roomID, url)
		if envs.QRFile != "" {
			svg, err := a.GetRoomQRSVG(ctx, qr.Options{})
			if err == nil {
				err = os.WriteFile(envs.QRFile, []byte(svg), 0o644)
			}
			if err != nil {
				logger.Warningf("qr write failed: %v", err)
			} else {
				fmt.Printf("qr code: %s\n", envs.QRFile)
			}
		}
	} else {
		if err := a.Join(ctx, joinRoomID); err != nil {
			return err
		}
		fmt.Printf("joined %s as %s\n", joinRoomID, short(a.Pubkey()))
	}

	for {
		ev, err := a.Recv(ctx)
		if err != nil {
			return nil // interrupted
		}
		printEvent(ev)
	}
}

func printEvent(ev arena.Event) {
	switch e := ev.(type) {
	case arena.EventPlayerJoin:
		fmt.Printf("+ %s joined\n", short(e.Player.Pubkey))
	case arena.EventPlayerLeave:
		fmt.Printf("- %s left\n", short(e.Pubkey))
	case arena.EventPlayerDisconnect:
		fmt.Printf("- %s disconnected\n", short(e.Pubkey))
	case arena.EventPlayerState:
		fmt.Printf("~ %s state %s\n", short(e.Pubkey), e.State)
	case arena.EventPlayerGameOver:
		fmt.Printf("x %s game over (%s)\n", short(e.Pubkey), e.Reason)
	case arena.EventRematchRequested:
		fmt.Printf("? %s wants a rematch\n", short(e.Pubkey))
	case arena.EventRematchStart:
		fmt.Printf("! rematch, seed %d\n", e.Seed)
	case arena.EventAllReady:
		fmt.Println("! all ready")
	case arena.EventCountdownStart:
		fmt.Printf("! countdown %d\n", e.Seconds)
	case arena.EventCountdownTick:
		fmt.Printf("! %d...\n", e.Remaining)
	case arena.EventGameStart:
		fmt.Println("! game start")
	case arena.EventError:
		fmt.Printf("error: %s\n", e.Message)
	}
}

func short(pubkey string) string {
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	return pubkey
}
