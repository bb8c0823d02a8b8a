// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/store"
)

// EngineStatus holds the status information for a running engine.
type EngineStatus struct {
	Live          bool   `json:"live"`
	Ready         bool   `json:"ready"`
	MetricsAddr   string `json:"metrics_addr,omitempty"`
	SchemaVersion uint   `json:"schema_version,omitempty"`
	SchemaDirty   bool   `json:"schema_dirty,omitempty"`
	Error         string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running GateWard engine",
		Long:  `Query the engine's health endpoints and the database schema version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, sc *statusConfig) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	status := queryEngineStatus(cfg.Metrics.Addr)
	fillSchemaStatus(&status, cfg.Database.URL)

	if sc.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(status))
	return nil
}

// queryEngineStatus probes the liveness and readiness endpoints.
func queryEngineStatus(metricsAddr string) EngineStatus {
	status := EngineStatus{MetricsAddr: metricsAddr}
	if metricsAddr == "" {
		status.Error = "metrics endpoint disabled"
		return status
	}

	client := &http.Client{Timeout: 2 * time.Second}

	live, err := client.Get("http://" + metricsAddr + "/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	_ = live.Body.Close()
	status.Live = live.StatusCode == http.StatusOK

	ready, err := client.Get("http://" + metricsAddr + "/healthz/readiness")
	if err != nil {
		return status
	}
	_ = ready.Body.Close()
	status.Ready = ready.StatusCode == http.StatusOK

	return status
}

// fillSchemaStatus adds the migration version when a database URL is known.
func fillSchemaStatus(status *EngineStatus, databaseURL string) {
	if databaseURL == "" {
		return
	}

	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		if status.Error == "" {
			status.Error = fmt.Sprintf("failed to inspect schema: %v", err)
		}
		return
	}
	defer func() { _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil {
		if status.Error == "" {
			status.Error = fmt.Sprintf("failed to read schema version: %v", err)
		}
		return
	}
	status.SchemaVersion = version
	status.SchemaDirty = dirty
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status EngineStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	_, _ = fmt.Fprintln(w, "-----\t-----")
	_, _ = fmt.Fprintf(w, "engine\t%s\n", boolWord(status.Live, "running", "not running"))
	_, _ = fmt.Fprintf(w, "ready\t%s\n", boolWord(status.Ready, "yes", "no"))
	if status.SchemaVersion > 0 || status.SchemaDirty {
		dirty := ""
		if status.SchemaDirty {
			dirty = " (dirty)"
		}
		_, _ = fmt.Fprintf(w, "schema\t%d%s\n", status.SchemaVersion, dirty)
	}
	if status.Error != "" {
		_, _ = fmt.Fprintf(w, "error\t%s\n", status.Error)
	}

	_ = w.Flush()
	return string(buf)
}

func boolWord(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
