package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/agency-orchestrator/internal/observability"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Manage the lead list",
}

var leadsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge leads from a JSON file into the lead list",
	Long: `Reads either a JSON array of leads or an object with a "leads" array. Leads
are matched by id, or by business name and website when the id is absent. Lock
state of existing leads is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		return importLeads(cmd.Context(), a, args[0], cmd.OutOrStdout())
	},
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, best score first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		observability.NewPrinter(cmd.OutOrStdout()).PrintLeads(a.store.Leads(cmd.Context()))
		return nil
	},
}

var leadsUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force-release every lead lock",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		n := a.store.ForceUnlockAll(cmd.Context())
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %d lead(s)\n", n)
		return err
	},
}

var leadsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release lead locks that have expired",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		n := a.store.SweepStaleLocks(cmd.Context())
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Released %d stale lock(s)\n", n)
		return err
	},
}

func init() {
	leadsCmd.AddCommand(leadsImportCmd, leadsListCmd, leadsUnlockCmd, leadsSweepCmd)
	rootCmd.AddCommand(leadsCmd)
}

// readLeadsFile parses and validates a lead import file.
func readLeadsFile(path string) (*types.UpsertLeadsRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read leads file %s: %w", path, err)
	}

	var req types.UpsertLeadsRequest
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &req.Leads)
	} else {
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse leads file %s: %w", path, err)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid leads file %s: %w", path, err)
	}
	return &req, nil
}

// importLeads merges the leads of path into the store.
func importLeads(ctx context.Context, a *app, path string, out io.Writer) error {
	req, err := readLeadsFile(path)
	if err != nil {
		return err
	}
	merged, ok := a.store.UpsertLeads(ctx, req.ToLeads())
	if !ok {
		return fmt.Errorf("failed to persist leads")
	}
	_, err = fmt.Fprintf(out, "Imported %d lead(s); %d total\n", len(req.Leads), len(merged))
	return err
}
