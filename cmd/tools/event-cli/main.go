package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/protocol"
)

const (
	defaultNATSURL = "nats://127.0.0.1:4222"
	timeFormat     = "2006-01-02T15:04:05Z"
	idleTimeout    = 2 * time.Second
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNATSURL, "NATS server URL")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		players    = flag.String("players", "", "Player IDs filter (comma-separated)")
		sources    = flag.String("sources", "", "Server instance filter (comma-separated)")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m, 1d)")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
	)
	flag.Parse()

	start, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since: %v", err)
	}
	pids, err := parsePIDList(*players)
	if err != nil {
		log.Fatalf("❌ Invalid players: %v", err)
	}
	filter := &envelopeFilter{
		types:   parseStringList(*eventTypes),
		sources: parseStringList(*sources),
		pids:    pids,
	}

	nc, err := nats.Connect(*natsURL, nats.Name("fg-event-cli"))
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("❌ JetStream unavailable: %v", err)
	}

	// OrderedConsumer эфемерный и не оставляет состояния на сервере
	sub, err := js.SubscribeSync(eventbus.SubjectPrefix+".>", nats.StartTime(start), nats.OrderedConsumer())
	if err != nil {
		log.Fatalf("❌ Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	switch *command {
	case "tail":
		err = tailEvents(sub, filter, *limit, *follow)
	case "stats":
		err = showStats(sub, filter)
	case "types":
		err = showTypes(sub)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// nextEnvelope читает следующее событие. ok=false означает, что
// накопленные события кончились и новых нет дольше wait.
func nextEnvelope(sub *nats.Subscription, wait time.Duration) (*eventbus.Envelope, bool, error) {
	for {
		msg, err := sub.NextMsg(wait)
		if errors.Is(err, nats.ErrTimeout) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		ev, err := decodeEnvelope(msg.Data)
		if err != nil {
			fmt.Printf("⚠️  skip %s: %v\n", msg.Subject, err)
			continue
		}
		return ev, true, nil
	}
}

// tailEvents выводит события начиная с since
func tailEvents(sub *nats.Subscription, f *envelopeFilter, limit int, follow bool) error {
	fmt.Printf("🎬 Tailing events (limit: %d, follow: %v)\n", limit, follow)

	wait := idleTimeout
	if follow {
		wait = time.Hour
	}

	count := 0
	for follow || count < limit {
		ev, ok, err := nextEnvelope(sub, wait)
		if err != nil {
			return err
		}
		if !ok {
			if follow {
				continue
			}
			break
		}
		if !f.match(ev) {
			continue
		}
		fmt.Println(formatEnvelope(ev))
		count++
	}

	fmt.Printf("\n📊 Total events: %d\n", count)
	return nil
}

// showStats считает события по типам
func showStats(sub *nats.Subscription, f *envelopeFilter) error {
	fmt.Println("📊 Event statistics")

	byType := make(map[string]int)
	bySource := make(map[string]int)
	total := 0
	for {
		ev, ok, err := nextEnvelope(sub, idleTimeout)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if !f.match(ev) {
			continue
		}
		byType[ev.EventType]++
		bySource[ev.Source]++
		total++
	}

	fmt.Printf("Total: %d\n\nBy type:\n", total)
	printCounts(byType)
	fmt.Println("\nBy source:")
	printCounts(bySource)
	return nil
}

// showTypes выводит типы событий, встреченные в окне
func showTypes(sub *nats.Subscription) error {
	seen := make(map[string]int)
	for {
		ev, ok, err := nextEnvelope(sub, idleTimeout)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		seen[ev.EventType]++
	}
	fmt.Println("📋 Event types")
	printCounts(seen)
	return nil
}

func printCounts(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[k])
	}
}

// parseSinceTime парсит длительность с поддержкой суффикса d
func parseSinceTime(since string, now time.Time) (time.Time, error) {
	if since == "" {
		return now.Add(-time.Hour), nil
	}
	if strings.HasSuffix(since, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(since, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid days: %s", since)
		}
		return now.Add(-time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(since)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePIDList(s string) ([]protocol.PID, error) {
	var pids []protocol.PID
	for _, p := range parseStringList(s) {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad pid %q", p)
		}
		pids = append(pids, protocol.PID(v))
	}
	return pids, nil
}
