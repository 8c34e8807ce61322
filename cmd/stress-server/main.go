// Command stress-server runs a dragonfly server with a swarm attached to it.
// Bots are created with the /stress command or at startup with -bots.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/df-mc/dragonfly/server"
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/oriumgames/swarm"
	"github.com/oriumgames/swarm/bedrock"
	"github.com/oriumgames/swarm/host"
	"github.com/oriumgames/swarm/nick"
)

var (
	address      = flag.String("address", "127.0.0.1:19132", "Address bots connect to, must reach this server")
	bots         = flag.Int("bots", 0, "Number of bots to connect at startup")
	delay        = flag.Duration("delay", time.Second, "Delay between two bots at startup")
	respawnDelay = flag.Duration("respawn-delay", 3*time.Second, "Delay before dead bots respawn, negative to never respawn")
	gravity      = flag.Bool("gravity", true, "Let bots fall to the ground")
	nicks        = flag.String("nicks", "", "File with one nickname per line")
	prefix       = flag.String("prefix", "", "Prefix for generated nicknames")
	ops          = flag.String("ops", "", "Comma separated players allowed to run /stress, everyone if empty")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	uc := server.DefaultConfig()
	// Bots log in offline.
	uc.Server.AuthEnabled = false
	conf, err := uc.Config(logger)
	if err != nil {
		log.Fatalf("Failed to build server config: %v", err)
	}
	srv := conf.New()
	srv.CloseOnProgramEnd()

	names, err := nick.Load(*nicks, *prefix)
	if err != nil {
		log.Fatalf("Failed to load nicknames: %v", err)
	}
	terrain := host.NewTerrain(srv.World())
	defer terrain.Close()

	mngr, err := swarm.NewBuilder().
		Address(*address).
		Transport(&bedrock.Transport{Log: logger}).
		Roster(host.NewRoster(srv)).
		Terrain(terrain).
		Nicknames(names).
		RespawnDelay(*respawnDelay).
		Gravity(*gravity).
		Logger(logger).
		Init()
	if err != nil {
		log.Fatalf("Failed to start swarm: %v", err)
	}
	defer mngr.Shutdown()

	host.RegisterCommands(mngr, allowOps(*ops))

	srv.Listen()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *bots > 0 {
		loader := swarm.NewLoader(mngr, swarm.LoaderConfig{
			Count:    *bots,
			DelayMin: *delay,
			DelayMax: *delay,
		})
		loader.Spin(ctx)
	}

	handler := host.NewHandler(terrain)
	for p := range srv.Accept() {
		p.Handle(handler)
	}
}

// allowOps returns a filter letting only the players named in list run
// /stress. An empty list allows everyone.
func allowOps(list string) func(src cmd.Source) bool {
	if list == "" {
		return nil
	}
	names := strings.Split(list, ",")
	for i := range names {
		names[i] = strings.ToLower(strings.TrimSpace(names[i]))
	}
	return func(src cmd.Source) bool {
		p, ok := src.(*player.Player)
		if !ok {
			return true
		}
		return slices.Contains(names, strings.ToLower(p.Name()))
	}
}
