// Command siem-loadgen replays a JSONL file of event envelopes onto the
// configured bus topic at a target rate (SPEC_FULL.md §C.4), for load
// testing the ingestion worker without a real upstream producer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/time/rate"

	"github.com/iff-guardian/siem-platform/internal/config"
	"github.com/iff-guardian/siem-platform/pkg/bus"
)

func main() {
	file := flag.String("file", "", "path to a JSONL file of event envelopes")
	ratePerSec := flag.Float64("rate", 100, "target envelopes per second")
	loop := flag.Bool("loop", false, "replay the file repeatedly until interrupted")
	flag.Parse()

	if *file == "" {
		log.Fatal("siem-loadgen: -file is required")
	}

	cfg, err := config.Load("siem-loadgen")
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	producer, err := bus.NewProducer(cfg.Bus.Brokers, cfg.Bus.Topic)
	if err != nil {
		log.Fatal("failed to create bus producer:", err)
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*ratePerSec), int(*ratePerSec)+1)

	total := 0
	for {
		n, err := replayOnce(ctx, *file, cfg.Bus.Topic, producer, limiter)
		total += n
		if err != nil {
			log.Fatalf("siem-loadgen: replay failed after %d envelopes: %v", total, err)
		}
		fmt.Printf("siem-loadgen: published %d envelopes (cumulative %d)\n", n, total)
		if !*loop {
			break
		}
	}
}

// replayOnce streams one pass of the JSONL file, publishing each line as
// a message keyed on its tenant_id so per-tenant ordering is preserved on
// the bus's partitioning.
func replayOnce(ctx context.Context, path, topic string, producer *bus.Producer, limiter *rate.Limiter) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return count, err
		}

		key := tenantKey(line)
		cp := append([]byte(nil), line...)
		if err := producer.Produce(ctx, key, cp); err != nil {
			return count, fmt.Errorf("publish line %d: %w", count, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scan %s: %w", path, err)
	}
	return count, nil
}

// tenantKey extracts tenant_id from a raw JSON envelope line, falling back
// to no key (random partition) if absent or unparseable.
func tenantKey(line []byte) []byte {
	var env struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(line, &env); err != nil || env.TenantID == "" {
		return nil
	}
	return []byte(env.TenantID)
}
