package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mediafire/mfsfs/internal/config"
	"github.com/mediafire/mfsfs/internal/health"
)

func statusMain(_ *cobra.Command, _ []string) error {
	cfg := config.NewDefault()
	if statusConfiguration.configPath != "" {
		if err := cfg.LoadFromFile(statusConfiguration.configPath); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
	}
	port := cfg.Global.HealthPort
	if statusConfiguration.port != 0 {
		port = statusConfiguration.port
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("no running mount found at port %d: %w", port, err)
	}
	defer resp.Body.Close()

	var status health.ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}

	label := color.GreenString(string(status.Status))
	if status.Status != health.StatusHealthy {
		label = color.RedString(string(status.Status))
	}
	fmt.Printf("Status: %s\n", label)
	fmt.Printf("Version: %s\n", status.Version)
	fmt.Printf("Checks: %d healthy, %d unhealthy, %d unknown\n",
		status.Stats.HealthyChecks, status.Stats.UnhealthyChecks, status.Stats.UnknownChecks)
	for name, result := range status.Checks {
		fmt.Printf("  %-28s %-10s %s\n", name, result.Status, result.Message)
	}
	return nil
}

var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Show the health of a running mount",
	Args:         disallowArguments,
	RunE:         statusMain,
	SilenceUsage: true,
}

var statusConfiguration struct {
	help       bool
	configPath string
	port       int
}

func init() {
	flags := statusCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&statusConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&statusConfiguration.configPath, "config", "c", "", "Path to configuration file")
	flags.IntVar(&statusConfiguration.port, "port", 0, "Override the health port to query")
}
