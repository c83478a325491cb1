package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/account"
	"github.com/dkeye/dial/internal/adapters/media"
	"github.com/dkeye/dial/internal/adapters/rtc"
	storews "github.com/dkeye/dial/internal/adapters/store/ws"
	"github.com/dkeye/dial/internal/call"
	"github.com/dkeye/dial/internal/config"
	"github.com/dkeye/dial/internal/core"
	"github.com/dkeye/dial/internal/domain"
)

type consoleNotifier struct{}

func (consoleNotifier) CallStateChanged(state core.CallState, peer domain.UserID) {
	fmt.Printf("[call] %s (peer %s)\n", state, peer)
}

func main() {
	uid := flag.String("uid", "", "auth subject id")
	name := flag.String("name", "", "display name (used on first registration)")
	peer := flag.String("peer", "", "peer's 9-digit identifier")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if *uid == "" || *peer == "" {
		fmt.Println("usage: dial -uid <auth-subject> -name <display-name> -peer <peer-id>")
		os.Exit(2)
	}

	st, err := storews.Dial(ctx, cfg.StoreURL)
	if err != nil {
		log.Fatal().Err(err).Msg("store gateway unreachable")
	}
	defer st.Close()

	accounts := account.NewService(st)
	acct, err := accounts.Register(ctx, domain.AuthID(*uid), *name, "")
	if err != nil {
		log.Fatal().Err(err).Msg("registration failed")
	}
	log.Info().Str("user", string(acct.ID)).Str("name", acct.DisplayName).Msg("signed in")

	peerAcct, err := accounts.Get(ctx, domain.UserID(*peer))
	if err != nil {
		log.Fatal().Err(err).Str("peer", *peer).Msg("peer not found")
	}

	src := media.NewSource(true, true)
	rtcCfg := rtc.Config(cfg.STUNServers)

	mgr := call.NewManager(st, src, func(id domain.CallID, stream core.MediaStream) (core.MediaConn, error) {
		return rtc.New(rtcCfg, id, stream)
	}, consoleNotifier{}, acct.ID, peerAcct.ID, call.Config{
		RingTimeout:         cfg.RingTimeout,
		IncomingRingTimeout: cfg.IncomingRingTimeout,
		TeardownGrace:       cfg.TeardownGrace,
	})
	mgr.OnPeerPresence = func(online bool) {
		status := "offline"
		if online {
			status = "online"
		}
		fmt.Printf("[presence] %s is %s\n", peerAcct.DisplayName, status)
	}
	if err := mgr.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("call manager start failed")
	}
	defer mgr.Stop(context.Background())

	fmt.Printf("connected as %s (%s); commands: call audio | call video | accept | decline | hangup | quit\n",
		acct.DisplayName, acct.ID)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "call audio":
				if err := mgr.PlaceCall(ctx, domain.KindAudio); err != nil {
					fmt.Println("error:", err)
				}
			case "call video":
				if err := mgr.PlaceCall(ctx, domain.KindVideo); err != nil {
					fmt.Println("error:", err)
				}
			case "accept":
				if err := mgr.Accept(ctx); err != nil {
					fmt.Println("error:", err)
				}
			case "decline":
				if err := mgr.Decline(ctx); err != nil {
					fmt.Println("error:", err)
				}
			case "hangup":
				if err := mgr.HangUp(ctx); err != nil {
					fmt.Println("error:", err)
				}
			case "quit":
				return
			case "":
			default:
				fmt.Println("unknown command:", line)
			}
		}
	}
}
