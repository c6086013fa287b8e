package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/mahaj/dhuan/pkg/apiclient"
	"github.com/mahaj/dhuan/pkg/bus"
	"github.com/mahaj/dhuan/pkg/config"
	"github.com/mahaj/dhuan/pkg/reconcile"
	"github.com/mahaj/dhuan/pkg/scope"
)

func main() {
	gatewayAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "member", "role (member or admin)")
	name := flag.String("name", "", "display name")
	groupID := flag.String("group", "", "group id to join")
	dmUser := flag.String("dm", "", "user id to dm (overrides -group)")
	ttl := flag.Int("ttl", 0, "per-send retention override in hours (0 = scope default)")
	flag.Parse()

	var sc scope.Scope
	switch {
	case *dmUser != "":
		sc = scope.Direct(*userID, *dmUser)
	case *groupID != "":
		sc = scope.Group(*groupID)
	default:
		log.Fatal("either -group or -dm is required")
	}
	if *name == "" {
		*name = *userID
	}

	cfg := config.Load()
	ctx := context.Background()

	api := apiclient.New(*apiAddr)
	log.Printf("Logging in as %s...", *userID)
	if err := api.Login(ctx, *userID, *role, *name); err != nil {
		log.Fatal("Login failed: ", err)
	}

	stream := apiclient.NewStreamBus(*gatewayAddr, api.Token())

	engine := reconcile.NewEngine(api, stream, bus.RetryPolicy{
		Base:        cfg.BackoffBase,
		Cap:         cfg.BackoffCap,
		MaxAttempts: cfg.MaxSubscribeTry,
		Timeout:     cfg.SubscribeTimeout,
	}, reconcile.Identity{
		UserID:      *userID,
		Role:        *role,
		DisplayName: *name,
	}, reconcile.Options{
		ResyncInterval:     cfg.ResyncInterval,
		LocalSweepInterval: cfg.LocalSweepInterval,
		SendTimeout:        cfg.SendTimeout,
		EstimatedTTL:       time.Duration(cfg.EstimatedTTLHours) * time.Hour,
		OnState: func(s reconcile.State) {
			fmt.Printf("\r[%s]\n> ", s)
		},
	})

	log.Printf("Opening %s...", sc)
	if err := engine.Open(ctx, sc.String()); err != nil {
		log.Fatal("Open failed: ", err)
	}
	defer engine.Close()

	render(engine)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go readInput(ctx, engine, api, *ttl, interrupt)

	<-interrupt
	log.Println("interrupt")
	engine.Close()
	time.Sleep(200 * time.Millisecond)
}

func readInput(ctx context.Context, engine *reconcile.Engine, api *apiclient.Client, ttl int, interrupt chan os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Print("> ")
			continue
		}

		switch {
		case text == "/quit":
			close(interrupt)
			return

		case text == "/view":
			render(engine)

		case text == "/who":
			for _, id := range engine.Presence() {
				fmt.Printf("  %s (%s)\n", id.DisplayName, id.ClientID)
			}

		case strings.HasPrefix(text, "/pin "):
			id, err := strconv.ParseInt(strings.TrimSpace(text[5:]), 10, 64)
			if err != nil {
				fmt.Println("usage: /pin <message-id>")
				break
			}
			if err := api.SetPinned(ctx, id, true); err != nil {
				fmt.Println("pin failed:", err)
			}

		case strings.HasPrefix(text, "/unpin "):
			id, err := strconv.ParseInt(strings.TrimSpace(text[7:]), 10, 64)
			if err != nil {
				fmt.Println("usage: /unpin <message-id>")
				break
			}
			if err := api.SetPinned(ctx, id, false); err != nil {
				fmt.Println("unpin failed:", err)
			}

		case text == "/cleanup":
			n, err := api.TriggerCleanup(ctx)
			if err != nil {
				fmt.Println("cleanup failed:", err)
			} else {
				fmt.Printf("cleanup deleted %d\n", n)
			}

		case strings.HasPrefix(text, "/retry "):
			token := strings.TrimSpace(text[7:])
			if err := engine.Retry(ctx, token); err != nil {
				fmt.Println("retry failed:", err)
			}

		default:
			if _, err := engine.Send(ctx, text, ttl); err != nil {
				fmt.Println("send failed (kept for /retry):", err)
			}
		}
		fmt.Print("> ")
	}
}

func render(engine *reconcile.Engine) {
	for _, entry := range engine.Snapshot() {
		mark := " "
		switch {
		case entry.Failed:
			mark = "!"
		case entry.Provisional:
			mark = "~"
		case entry.Message.Pinned:
			mark = "*"
		}
		fmt.Printf("%s %d %s: %s (expires %s)\n",
			mark, entry.Message.ID, entry.Message.AuthorName, entry.Message.Content,
			entry.Message.ExpiresAt.Local().Format("15:04:05"))
	}
}
