package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiClient = &http.Client{Timeout: 10 * time.Second}

// runLiveStatus queries a running instance's /live/status endpoint and
// prints a human-readable summary.
func runLiveStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	var status struct {
		Phase             string `json:"phase"`
		Active            bool   `json:"active"`
		TotalEvents       int64  `json:"total_events"`
		ActiveDataSources int    `json:"active_data_sources"`
		Sources           []struct {
			Platform string `json:"platform"`
			State    string `json:"state"`
		} `json:"sources"`
	}
	if err := getJSON(addr+"/live/status", &status); err != nil {
		return err
	}

	fmt.Printf("phase: %s  active: %v  total_events: %d  active_sources: %d\n",
		status.Phase, status.Active, status.TotalEvents, status.ActiveDataSources)
	for _, s := range status.Sources {
		fmt.Printf("  %-12s %s\n", s.Platform, s.State)
	}
	return nil
}

// runBreakerStatus queries a running instance's /circuit-breaker endpoint.
func runBreakerStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	var status struct {
		State             string  `json:"state"`
		DailyPnL          float64 `json:"daily_pnl"`
		TotalPnL          float64 `json:"total_pnl"`
		Drawdown          float64 `json:"drawdown"`
		ConsecutiveLosses int     `json:"consecutive_losses"`
		RecentFailures    int     `json:"recent_failures"`
		EmergencyStopped  bool    `json:"emergency_stopped"`
	}
	if err := getJSON(addr+"/circuit-breaker", &status); err != nil {
		return err
	}

	fmt.Printf("state: %s  emergency_stopped: %v\n", status.State, status.EmergencyStopped)
	fmt.Printf("daily_pnl: %.2f  total_pnl: %.2f  drawdown: %.2f  consecutive_losses: %d  recent_failures: %d\n",
		status.DailyPnL, status.TotalPnL, status.Drawdown, status.ConsecutiveLosses, status.RecentFailures)
	return nil
}

// runBreakerAction returns a RunE that POSTs the named action to a
// running instance's /circuit-breaker endpoint.
func runBreakerAction(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		reason, _ := cmd.Flags().GetString("reason")

		body, err := json.Marshal(map[string]string{"action": action, "reason": reason})
		if err != nil {
			return err
		}

		resp, err := apiClient.Post(addr+"/circuit-breaker", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("call circuit-breaker endpoint: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("circuit-breaker action %s failed: %s: %s", action, resp.Status, raw)
		}

		log.Info().Str("action", action).Msg("circuit breaker action applied")
		return runBreakerStatus(cmd, args)
	}
}

func getJSON(url string, out interface{}) error {
	resp, err := apiClient.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %s: %s", url, resp.Status, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
