// Command evaluate runs one reach through the full classify-and-decide
// chain against the live National Water Prediction Service API and prints
// the outcome. It is an offline diagnostic: nothing is cached, stored, or
// dispatched.
//
// Usage:
//
//	go run ./cmd/evaluate -reach 14359000
//	go run ./cmd/evaluate -reach 14359000 -flow 700 -unit cfs
//	go run ./cmd/evaluate -reach 14359000 -flow 20 -unit cms -scale 2
//	go run ./cmd/evaluate -reach 14359000 -flow 700 -table thresholds.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/adapter/nwps"
	"github.com/couchcryptid/flow-alert-service/internal/domain"
)

func main() {
	reachID := flag.String("reach", "", "NWPS reach identifier (required)")
	flow := flag.Float64("flow", -1, "flow value to evaluate; omit to use the live forecast maximum")
	unit := flag.String("unit", "cfs", "unit of -flow: cfs or cms")
	scale := flag.Float64("scale", 1, "threshold scale factor (thresholds are divided by this)")
	tablePath := flag.String("table", "", "path to a return-period table JSON file; omit to fetch live")
	baseURL := flag.String("base-url", nwps.DefaultBaseURL, "NWPS API base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "API request timeout")
	flag.Parse()

	if *reachID == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *unit != "cfs" && *unit != "cms" {
		fmt.Fprintf(os.Stderr, "invalid -unit %q: must be cfs or cms\n", *unit)
		os.Exit(1)
	}
	if *tablePath != "" && *flow < 0 {
		fmt.Fprintln(os.Stderr, "-table requires -flow (no live forecast is fetched in file mode)")
		os.Exit(1)
	}

	if code := run(*reachID, *flow, domain.FlowUnit(*unit), *scale, *tablePath, *baseURL, *timeout); code != 0 {
		os.Exit(code)
	}
}

func run(reachID string, flow float64, unit domain.FlowUnit, scale float64, tablePath, baseURL string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()

	client := nwps.NewClient(baseURL, timeout, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	table, err := loadTable(ctx, client, reachID, tablePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load return periods: %v\n", err)
		return 1
	}
	if table == nil {
		fmt.Printf("Reach %s has no published return-period data; flows classify as unknown.\n", reachID)
		return 0
	}

	obs := domain.FlowObservation{ReachID: reachID, Value: flow, Unit: unit, Horizon: domain.HorizonShort}
	if flow < 0 {
		observations, err := client.Streamflow(ctx, reachID, []domain.ForecastHorizon{domain.HorizonShort, domain.HorizonMedium})
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: fetch forecast: %v\n", err)
			return 1
		}
		peak, ok := domain.ReduceMaxFlow(observations, domain.HorizonShort, domain.HorizonMedium)
		if !ok {
			fmt.Printf("Reach %s has no forecast values in the short or medium range.\n", reachID)
			return 0
		}
		obs = peak
	}

	classification := domain.Classify(obs, table, scale)
	nearest := domain.NearestReturnYear(obs.Value, obs.Unit, table, scale)

	decision := domain.Decide(domain.DecisionInput{
		Observation:    obs,
		Classification: classification,
		Table:          table,
		Preference:     allOnPreference(reachID),
		EmergencyRules: domain.DefaultEmergencyRules(),
		ReachName:      reachID,
		ScaleFactor:    scale,
		Now:            time.Now(),
	})

	fmt.Printf("Reach:        %s\n", reachID)
	fmt.Printf("Flow:         %.1f %s (%s)\n", obs.Value, obs.Unit, obs.Horizon)
	fmt.Printf("Table unit:   %s (retrieved %s)\n", table.Unit, table.RetrievedAt.Format(time.RFC3339))
	printThresholds(table, scale)
	fmt.Println()
	fmt.Printf("Category:     %s\n", classification.Category)
	fmt.Printf("Nearest year: %d\n", nearest)
	fmt.Printf("Priority:     %s\n", decision.Priority)
	fmt.Printf("Urgency:      %s\n", decision.Urgency)
	fmt.Printf("Channel:      %s\n", decision.Channel)
	fmt.Printf("Would send:   %t\n", decision.ShouldSend)
	fmt.Printf("Title:        %s\n", decision.Title)
	fmt.Printf("Body:         %s\n", decision.Body)
	return 0
}

// loadTable reads the return-period table from a JSON file when a path is
// given, otherwise from the live API.
func loadTable(ctx context.Context, client *nwps.Client, reachID, tablePath string) (*domain.ReturnPeriodTable, error) {
	if tablePath == "" {
		return client.ReturnPeriod(ctx, reachID)
	}
	data, err := os.ReadFile(tablePath)
	if err != nil {
		return nil, err
	}
	var table domain.ReturnPeriodTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse %s: %w", tablePath, err)
	}
	if table.ReachID == "" {
		table.ReachID = reachID
	}
	return &table, nil
}

func printThresholds(table *domain.ReturnPeriodTable, scale float64) {
	fmt.Printf("Thresholds:  ")
	for _, year := range domain.StandardReturnYears {
		if threshold, ok := table.Threshold(year, scale); ok {
			fmt.Printf(" %d-yr=%.0f", year, threshold)
		}
	}
	fmt.Println()
}

// allOnPreference makes every alert type eligible so the tool reports what
// the engine would do for the most permissive user.
func allOnPreference(reachID string) domain.NotificationPreference {
	return domain.NotificationPreference{
		EnabledReachIDs:   map[string]bool{reachID: true},
		EmergencyAlerts:   true,
		ActivityAlerts:    true,
		InformationAlerts: true,
	}
}
