package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/BlearKK/deepdriver/internal/config"
	"github.com/BlearKK/deepdriver/pkg/events"
	"github.com/BlearKK/deepdriver/pkg/streamclient"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

func main() {
	cfg := config.Load()

	target := flag.String("target", "", "institution to screen (required)")
	server := flag.String("server", cfg.Client.ServerURL, "search server base URL")
	session := flag.String("session", "", "session id to resume")
	processed := flag.String("processed", "", "comma-separated item ids already held (with -session)")
	flag.Parse()

	if *target == "" {
		log.Fatal("usage: searchcli -target \"Institution Name\" [-session <id> -processed a,b,c]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := streamclient.NewManager(streamclient.Config{
		ServerURL:            *server,
		Target:               *target,
		SessionID:            *session,
		ProcessedItemIDs:     splitList(*processed),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.Client.ReconnectBackoff,
		InactivityTimeout:    cfg.Client.InactivityTimeout,
		PollInterval:         cfg.Client.PollInterval,
		MaxPollFailures:      cfg.Client.MaxPollFailures,
	})

	bold.Printf("Screening %q via %s\n", *target, *server)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	for u := range mgr.Updates() {
		switch u.Kind {
		case streamclient.UpdateState:
			cyan.Printf("state: %s\n", u.State)
		case streamclient.UpdateProgress:
			fmt.Printf("  progress %d/%d\n", u.Processed, u.Total)
		case streamclient.UpdateResult:
			printResult(u.Result, u.Processed, u.Total)
		case streamclient.UpdateDone:
			green.Printf("done: %d/%d items processed\n", u.Processed, u.Total)
		case streamclient.UpdateFailed:
			red.Printf("failed: %v\n", u.Err)
		}
	}

	if err := <-done; err != nil && ctx.Err() == nil {
		red.Printf("session id for resume: %s\n", mgr.SessionID())
		red.Printf("processed so far: %s\n", strings.Join(mgr.ProcessedItemIDs(), ","))
		log.Fatal(err)
	}

	printSummary(mgr.Results())
}

func printResult(r *events.WorkResult, processed, total int) {
	if r == nil {
		return
	}
	c := yellow
	switch r.RelationshipType {
	case events.RelationshipDirect:
		c = red
	case events.RelationshipNoEvidenceFound:
		c = green
	}
	c.Printf("[%d/%d] %s: %s\n", processed, total, r.ItemID, r.RelationshipType)
	if r.Summary != "" {
		fmt.Printf("       %s\n", r.Summary)
	}
	if len(r.Intermediaries) > 0 {
		fmt.Printf("       via: %s\n", strings.Join(r.Intermediaries, ", "))
	}
}

func printSummary(results []events.WorkResult) {
	counts := make(map[events.RelationshipType]int)
	for _, r := range results {
		counts[r.RelationshipType]++
	}
	bold.Println("\nSummary")
	for _, rt := range []events.RelationshipType{
		events.RelationshipDirect,
		events.RelationshipIndirect,
		events.RelationshipSignificantMention,
		events.RelationshipNoEvidenceFound,
		events.RelationshipUnknown,
	} {
		if n := counts[rt]; n > 0 {
			fmt.Printf("  %-22s %d\n", rt, n)
		}
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
