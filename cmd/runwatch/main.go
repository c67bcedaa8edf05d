package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thebakerswow/thebakers-front-sub000/internal/alert"
	"github.com/thebakerswow/thebakers-front-sub000/internal/api"
	"github.com/thebakerswow/thebakers-front-sub000/internal/channel"
	"github.com/thebakerswow/thebakers-front-sub000/internal/config"
	"github.com/thebakerswow/thebakers-front-sub000/internal/identity"
	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
	"github.com/thebakerswow/thebakers-front-sub000/internal/notify"
	"github.com/thebakerswow/thebakers-front-sub000/internal/roster"
	"github.com/thebakerswow/thebakers-front-sub000/internal/runview"
)

func main() {
	runID := flag.Uint("run", 0, "run id to watch")
	tagMessage := flag.String("tag", "", "notify the run's raid leaders with this message and exit")
	paidView := flag.Bool("paid-view", false, "sort paid buyers ahead of unpaid within the same status")
	flag.Parse()

	if *runID == 0 {
		log.Fatal("usage: runwatch -run <id> [-tag <message>] [-paid-view]")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
	cfg := config.Load()

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken)
	dedup := alert.NewDedup(10*time.Second, 128)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *tagMessage != "" {
		tagLeaders(ctx, client, cfg, uint(*runID), *tagMessage)
		return
	}

	ch, err := channel.Open(ctx, uint(*runID), client, channel.Options{
		WSBaseURL:      cfg.WSBaseURL,
		Token:          cfg.APIToken,
		LocalIDDiscord: cfg.LocalIDDiscord,
		MaxReconnect:   cfg.ReconnectAttempts,
		Backoff:        cfg.ReconnectBackoff,
		OnState: func(s channel.State) {
			fmt.Printf("* connection %s\n", s)
		},
		OnError: func(detail string) {
			if dedup.Allow(detail) {
				fmt.Fprintf(os.Stderr, "! chat: %s\n", detail)
			}
		},
	})
	if err != nil {
		log.Fatalf("open chat for run %d: %v", *runID, err)
	}
	ch.SetForeground(true)

	policy := roster.TieArrival
	if *paidView {
		policy = roster.TiePaidFirst
	}
	view, err := runview.Open(ctx, uint(*runID), client, runview.Options{
		PollInterval: cfg.PollInterval,
		Policy:       policy,
		Channel:      ch,
		Dedup:        dedup,
		OnError: func(detail string) {
			fmt.Fprintf(os.Stderr, "! %s\n", detail)
		},
	})
	if err != nil {
		ch.Close()
		log.Fatalf("open run %d: %v", *runID, err)
	}
	defer view.Close()

	for _, msg := range ch.Messages() {
		printMessage(msg)
	}
	printSnapshot(view.Snapshot())

	go readInput(ch)

	// Print chat lines as they arrive by diffing the log length.
	go func() {
		seen := len(ch.Messages())
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			msgs := ch.Messages()
			for ; seen < len(msgs); seen++ {
				printMessage(msgs[seen])
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")
}

func tagLeaders(ctx context.Context, client *api.Client, cfg *config.Config, runID uint, message string) {
	payload, err := client.FetchRoster(ctx, runID)
	if err != nil {
		log.Fatalf("fetch run %d: %v", runID, err)
	}

	router := notify.NewRouter(cfg.APIBaseURL, cfg.APIToken, func(leader models.RaidLeader) (string, error) {
		return identity.ResolveWith(leader, cfg.DecryptSecret, cfg.EncryptedSentinel)
	})

	result, err := router.TagLeaders(ctx, payload.Run.RaidLeaders, message)
	if err != nil {
		log.Fatalf("tag leaders: %v", err)
	}
	fmt.Printf("notified %d leader(s), %d unreachable\n", result.Sent, result.Failed)
}

func readInput(ch *channel.Channel) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := ch.Send(scanner.Text()); err != nil {
			fmt.Fprintf(os.Stderr, "! send unavailable: %v\n", err)
		}
	}
}

func printMessage(msg models.ChatMessage) {
	ts := msg.CreatedAt.Format("15:04")
	fmt.Printf("[%s] %s: %s\n", ts, msg.UserName, msg.Message)
}

func printSnapshot(snap roster.Snapshot) {
	fmt.Printf("-- %d buyer(s), %d backup(s), %d slot(s) open, pot %d gold\n",
		len(snap.Buyers), snap.Backups, snap.SlotsAvailable, snap.PaidPot)
	for _, b := range snap.Buyers {
		paid := " "
		if b.Paid {
			paid = "$"
		}
		status := b.Status
		if status == "" {
			status = "-"
		}
		fmt.Printf("   %s %-8s %s\n", paid, status, b.Name)
	}
}
