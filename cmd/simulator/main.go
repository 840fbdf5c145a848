// Command simulator seeds an Elasticsearch-compatible backend with synthetic
// traffic so a local SentinelOps agent has something to detect: a 60-minute
// normal baseline, then a connection-pool-exhaustion spike on payment-service
// in the last 5 minutes that cascades into order-service and the gateway.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

var services = []string{"gateway", "payment-service", "order-service", "auth-service", "inventory-service"}

const (
	logIndex     = "app-logs-000001"
	logAlias     = "app-logs"
	runbookIndex = "incident-runbooks"

	normalErrorRate     = 2    // errors per 5-min bucket per service
	normalLatencyMean   = 120  // ms
	normalLatencyStddev = 30   // ms
	spikeErrorRate      = 60   // errors per 5-min bucket
	spikeLatencyMean    = 1800 // ms
	spikeLatencyStddev  = 400  // ms
)

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s -> %s: %s", method, path, resp.Status, string(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// bulk sends documents through the _bulk API as NDJSON. refresh=wait_for so
// the agent's next poll sees everything we wrote.
func (c *client) bulk(ctx context.Context, index string, docs []map[string]any) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": index}}); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/_bulk?refresh=wait_for", &buf)
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bulk -> %s: %s", resp.Status, string(b))
	}
	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error any `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Errors {
		failed := 0
		for _, item := range result.Items {
			for _, op := range item {
				if op.Error != nil {
					failed++
				}
			}
		}
		fmt.Printf("  Warning: %d/%d documents failed to index\n", failed, len(docs))
	}
	return nil
}

func (c *client) recreateIndex(ctx context.Context, index string, body map[string]any) error {
	var exists bool
	req, _ := http.NewRequestWithContext(ctx, http.MethodHead, c.base+"/"+index, nil)
	if resp, err := c.http.Do(req); err == nil {
		resp.Body.Close()
		exists = resp.StatusCode == http.StatusOK
	}
	if exists {
		if err := c.do(ctx, http.MethodDelete, "/"+index, nil, nil); err != nil {
			return err
		}
	}
	return c.do(ctx, http.MethodPut, "/"+index, body, nil)
}

func createLogIndex(ctx context.Context, c *client) error {
	return c.recreateIndex(ctx, logIndex, map[string]any{
		"aliases": map[string]any{logAlias + "-all": map[string]any{}},
		"mappings": map[string]any{
			"properties": map[string]any{
				"@timestamp":   map[string]any{"type": "date"},
				"service.name": map[string]any{"type": "keyword"},
				"level":        map[string]any{"type": "keyword"},
				"message":      map[string]any{"type": "text"},
				"duration_ms":  map[string]any{"type": "float"},
				"trace.id":     map[string]any{"type": "keyword"},
				"status_code":  map[string]any{"type": "integer"},
				"endpoint":     map[string]any{"type": "keyword"},
			},
		},
	})
}

// seedRunbooks recreates the runbook index and loads three historical
// incidents that overlap the simulated outage, so runbook matching has
// something to surface.
func seedRunbooks(ctx context.Context, c *client) (int, error) {
	err := c.recreateIndex(ctx, runbookIndex, map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"title":             map[string]any{"type": "text"},
				"incident_date":     map[string]any{"type": "date"},
				"services_affected": map[string]any{"type": "keyword"},
				"root_cause":        map[string]any{"type": "text"},
				"resolution_steps":  map[string]any{"type": "text"},
				"tags":              map[string]any{"type": "keyword"},
			},
		},
	})
	if err != nil {
		return 0, err
	}

	runbooks := []map[string]any{
		{
			"title":             "Payment DB connection pool exhaustion",
			"incident_date":     "2025-11-03T14:22:00Z",
			"services_affected": []string{"payment-service", "order-service"},
			"root_cause":        "HikariCP pool capped at 10 connections while a slow transactions query held them open, starving payment processing.",
			"resolution_steps":  "1. Kill long-running queries on payment-db. 2. Raise pool max to 30. 3. Add statement timeout of 5s. 4. Restart payment-service pods.",
			"tags":              []string{"database", "connection-pool", "payment"},
		},
		{
			"title":             "Order checkout cascade from payment timeouts",
			"incident_date":     "2025-08-19T09:10:00Z",
			"services_affected": []string{"order-service", "payment-service", "gateway"},
			"root_cause":        "Order-service retried payment calls without a circuit breaker, amplifying a payment-service brownout into a full checkout outage.",
			"resolution_steps":  "1. Enable circuit breaker on order-service payment client. 2. Shed checkout traffic at the gateway. 3. Scale payment-service. 4. Verify retry budget config.",
			"tags":              []string{"cascade", "timeout", "checkout"},
		},
		{
			"title":             "Gateway 5xx storm during downstream brownout",
			"incident_date":     "2025-05-07T17:45:00Z",
			"services_affected": []string{"gateway"},
			"root_cause":        "Gateway kept 30s upstream timeouts during a downstream slowdown, pinning worker threads and returning 502/504 to clients.",
			"resolution_steps":  "1. Drop gateway upstream timeout to 10s. 2. Enable response caching for idempotent routes. 3. Page downstream owners.",
			"tags":              []string{"gateway", "5xx", "timeout"},
		},
	}
	for i, rb := range runbooks {
		if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/%s/_doc/rb-%d", runbookIndex, i), rb, nil); err != nil {
			return 0, err
		}
	}
	return len(runbooks), nil
}

func traceID() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:8])
}

func gauss(mean, stddev float64) float64 {
	return rand.NormFloat64()*stddev + mean
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func pick(options []string) string {
	return options[rand.Intn(len(options))]
}

// generateBaseline writes normal traffic for the past hour, stopping short
// of the last 5 minutes so the spike window stays clean. Volumes sit well
// inside one standard deviation so nothing here trips the detector.
func generateBaseline(ctx context.Context, c *client, now time.Time, minutes int) (int, error) {
	endpoints := []string{"/api/health", "/api/users", "/api/orders", "/api/products"}
	errorMessages := []string{
		"Connection timeout after 5000ms",
		"Failed to parse response body",
		"Unexpected null in field 'user_id'",
	}
	const bucketMinutes = 5

	var docs []map[string]any
	for minutesAgo := minutes; minutesAgo > bucketMinutes; minutesAgo -= bucketMinutes {
		bucketStart := now.Add(-time.Duration(minutesAgo) * time.Minute)

		for _, service := range services {
			for n := 40 + rand.Intn(41); n > 0; n-- {
				ts := bucketStart.Add(time.Duration(rand.Intn(bucketMinutes*60)) * time.Second)
				endpoint := pick(endpoints)
				docs = append(docs, map[string]any{
					"@timestamp":   ts.Format(time.RFC3339),
					"service.name": service,
					"level":        "info",
					"message":      fmt.Sprintf("GET %s completed", endpoint),
					"duration_ms":  round1(max(10, gauss(normalLatencyMean, normalLatencyStddev))),
					"trace.id":     traceID(),
					"status_code":  200,
					"endpoint":     endpoint,
				})
			}

			for n := normalErrorRate - 1 + rand.Intn(3); n > 0; n-- {
				ts := bucketStart.Add(time.Duration(rand.Intn(bucketMinutes*60)) * time.Second)
				docs = append(docs, map[string]any{
					"@timestamp":   ts.Format(time.RFC3339),
					"service.name": service,
					"level":        "error",
					"message":      pick(errorMessages),
					"duration_ms":  round1(gauss(normalLatencyMean*2, 100)),
					"trace.id":     traceID(),
					"status_code":  []int{500, 502, 503}[rand.Intn(3)],
				})
			}
		}
	}

	return len(docs), c.bulk(ctx, logIndex, docs)
}

// generateSpike injects the incident into the last 5 minutes: a payment
// error burst with shared trace ids, a delayed order-service cascade, and
// gateway 5xx fanout. Auth and inventory stay healthy so detection stays
// scoped to the three affected services.
func generateSpike(ctx context.Context, c *client, now time.Time) (int, error) {
	spikeStart := now.Add(-5 * time.Minute)

	sharedTraces := make([]string, 15)
	for i := range sharedTraces {
		sharedTraces[i] = traceID()
	}

	var docs []map[string]any

	paymentErrors := []string{
		"Database connection pool exhausted: all 10 connections in use",
		"Transaction failed: timeout waiting for connection from pool",
		"java.sql.SQLTransientConnectionException: HikariPool-1 - Connection is not available",
		"Circuit breaker OPEN for payment-db after 10 consecutive failures",
		"Failed to process payment: upstream timeout after 30000ms",
	}
	for i := 0; i < spikeErrorRate; i++ {
		ts := spikeStart.Add(time.Duration(rand.Intn(300)) * time.Second)
		trace := traceID()
		if i < 30 {
			trace = pick(sharedTraces)
		}
		docs = append(docs, map[string]any{
			"@timestamp":   ts.Format(time.RFC3339),
			"service.name": "payment-service",
			"level":        "error",
			"message":      pick(paymentErrors),
			"duration_ms":  round1(max(500, gauss(spikeLatencyMean, spikeLatencyStddev))),
			"trace.id":     trace,
			"status_code":  []int{500, 503, 504}[rand.Intn(3)],
			"endpoint":     "/api/payments/process",
		})
	}

	// Slow successes on the same pool push latency without adding errors.
	for i := 0; i < 25; i++ {
		ts := spikeStart.Add(time.Duration(rand.Intn(300)) * time.Second)
		docs = append(docs, map[string]any{
			"@timestamp":   ts.Format(time.RFC3339),
			"service.name": "payment-service",
			"level":        "warning",
			"message":      "Slow query detected: SELECT * FROM transactions WHERE ... took 4500ms",
			"duration_ms":  round1(max(1000, gauss(spikeLatencyMean*1.5, 500))),
			"trace.id":     pick(sharedTraces),
			"status_code":  200,
			"endpoint":     "/api/payments/process",
		})
	}

	orderErrors := []string{
		"Payment processing failed for order: upstream 503 from payment-service",
		"Timeout waiting for payment-service response after 30s",
		"Order checkout failed: payment-service circuit breaker is OPEN",
		"Retry exhausted (3/3) calling payment-service /api/payments/process",
	}
	// Cascade starts about 30 seconds after the payment errors begin.
	for i := 0; i < 35; i++ {
		ts := spikeStart.Add(time.Duration(30+rand.Intn(270)) * time.Second)
		trace := traceID()
		if i < 20 {
			trace = pick(sharedTraces)
		}
		docs = append(docs, map[string]any{
			"@timestamp":   ts.Format(time.RFC3339),
			"service.name": "order-service",
			"level":        "error",
			"message":      pick(orderErrors),
			"duration_ms":  round1(max(5000, gauss(15000, 3000))),
			"trace.id":     trace,
			"status_code":  503,
			"endpoint":     "/api/orders/checkout",
		})
	}

	gatewayErrors := []string{
		"Upstream returned 503: payment-service",
		"Upstream returned 503: order-service",
		"Gateway timeout: request exceeded 30s limit",
	}
	for i := 0; i < 20; i++ {
		ts := spikeStart.Add(time.Duration(30+rand.Intn(270)) * time.Second)
		docs = append(docs, map[string]any{
			"@timestamp":   ts.Format(time.RFC3339),
			"service.name": "gateway",
			"level":        "error",
			"message":      pick(gatewayErrors),
			"duration_ms":  round1(gauss(30000, 2000)),
			"trace.id":     pick(sharedTraces),
			"status_code":  []int{502, 503, 504}[rand.Intn(3)],
			"endpoint":     pick([]string{"/api/orders/checkout", "/api/payments/process"}),
		})
	}

	for _, service := range []string{"auth-service", "inventory-service"} {
		for i := 0; i < 30; i++ {
			ts := spikeStart.Add(time.Duration(rand.Intn(300)) * time.Second)
			docs = append(docs, map[string]any{
				"@timestamp":   ts.Format(time.RFC3339),
				"service.name": service,
				"level":        "info",
				"message":      "Request completed successfully",
				"duration_ms":  round1(max(10, gauss(normalLatencyMean, normalLatencyStddev))),
				"trace.id":     traceID(),
				"status_code":  200,
			})
		}
	}

	return len(docs), c.bulk(ctx, logIndex, docs)
}

func main() {
	var esURL string
	flag.StringVar(&esURL, "es-url", getenv("ES_URL", "http://localhost:9201"), "Elasticsearch URL")
	flag.Parse()

	c := newClient(esURL)
	ctx := context.Background()

	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, &info); err != nil {
		fmt.Fprintln(os.Stderr, "cannot reach Elasticsearch:", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to Elasticsearch %s\n", info.Version.Number)

	now := time.Now().UTC()

	fmt.Println("\n[1/4] Creating log index...")
	if err := createLogIndex(ctx, c); err != nil {
		fmt.Fprintln(os.Stderr, "create index failed:", err)
		os.Exit(1)
	}
	fmt.Printf("  Created index: %s\n", logIndex)

	fmt.Println("[2/4] Seeding runbooks...")
	seeded, err := seedRunbooks(ctx, c)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed runbooks failed:", err)
		os.Exit(1)
	}
	fmt.Printf("  Seeded %d runbooks\n", seeded)

	fmt.Println("[3/4] Generating 60 min of normal baseline traffic...")
	normalCount, err := generateBaseline(ctx, c, now, 60)
	if err != nil {
		fmt.Fprintln(os.Stderr, "baseline failed:", err)
		os.Exit(1)
	}
	fmt.Printf("  Indexed %d normal log entries\n", normalCount)

	fmt.Println("[4/4] Injecting anomaly spike (last 5 minutes)...")
	spikeCount, err := generateSpike(ctx, c, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "spike failed:", err)
		os.Exit(1)
	}
	fmt.Printf("  Indexed %d anomaly entries\n", spikeCount)

	fmt.Printf("\nDone! Total: %d documents\n", normalCount+spikeCount)
	fmt.Println("\nThe simulated incident:")
	fmt.Println("  - payment-service: connection pool exhaustion, error spike plus latency surge")
	fmt.Println("  - order-service: cascading failures from payment-service timeouts")
	fmt.Println("  - gateway: elevated 5xx from both downstream services")
	fmt.Println("\nThe agent should detect this on its next polling cycle (within 30s).")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
