/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/inkwell/internal/models"
	"github.com/friendsincode/inkwell/internal/publishing"
	"github.com/friendsincode/inkwell/internal/server"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Inspect and seed schedule policies",
}

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedule policies",
	RunE:  runPoliciesList,
}

var policiesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update policies from a YAML seed file",
	Long: `Reads a YAML seed file and creates each policy that does not exist yet,
matching by name. Existing policies are updated in place.

Seed file format:
  policies:
    - name: breaking-news
      cadence: instant
      priority: 100
    - name: features
      cadence: daily
      blackout_start: "22:00"
      blackout_end: "07:00"
      daily_cap: 3
    - name: columns
      cadence: custom
      interval_minutes: 90
      active: false
`,
	Args: cobra.ExactArgs(1),
	RunE: runPoliciesImport,
}

func init() {
	policiesCmd.AddCommand(policiesListCmd)
	policiesCmd.AddCommand(policiesImportCmd)
	rootCmd.AddCommand(policiesCmd)
}

func runPoliciesList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	srv, err := server.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer srv.Close()

	policies, err := srv.Publishing().ListPolicies(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACTIVE\tCADENCE\tBLACKOUT\tDAILY CAP\tPRIORITY")
	for _, p := range policies {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%d\n", p.Name, p.Active, describeCadence(p), describeBlackout(p), describeCap(p), p.Priority)
	}
	return w.Flush()
}

func runPoliciesImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	seeds, err := parseSeed(data)
	if err != nil {
		return err
	}

	srv, err := server.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	srv.StartBackground(false)
	defer srv.Close()

	ctx := publishing.WithActor(cmd.Context(), "cli")
	result, err := importPolicies(ctx, srv.Publishing(), seeds)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d\n", result.Created, result.Updated)
	return nil
}

type seedFile struct {
	Policies []policySeed `yaml:"policies"`
}

type policySeed struct {
	Name            string  `yaml:"name"`
	Active          *bool   `yaml:"active"`
	Cadence         string  `yaml:"cadence"`
	IntervalMinutes *int    `yaml:"interval_minutes"`
	BlackoutStart   *string `yaml:"blackout_start"`
	BlackoutEnd     *string `yaml:"blackout_end"`
	DailyCap        *int    `yaml:"daily_cap"`
	Priority        int     `yaml:"priority"`
}

// parseSeed decodes a seed file. Omitted active flags default to true.
func parseSeed(data []byte) ([]models.SchedulePolicy, error) {
	var file seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Policies) == 0 {
		return nil, errors.New("seed file lists no policies")
	}

	seen := make(map[string]bool, len(file.Policies))
	out := make([]models.SchedulePolicy, 0, len(file.Policies))
	for i, s := range file.Policies {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("policy #%d: name is required", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("policy %q listed twice", name)
		}
		seen[name] = true

		active := true
		if s.Active != nil {
			active = *s.Active
		}
		out = append(out, models.SchedulePolicy{
			Name:            name,
			Active:          active,
			Cadence:         models.Cadence(strings.ToLower(strings.TrimSpace(s.Cadence))),
			IntervalMinutes: s.IntervalMinutes,
			BlackoutStart:   s.BlackoutStart,
			BlackoutEnd:     s.BlackoutEnd,
			DailyCap:        s.DailyCap,
			Priority:        s.Priority,
		})
	}
	return out, nil
}

type policyStore interface {
	GetPolicyByName(ctx context.Context, name string) (*models.SchedulePolicy, error)
	CreatePolicy(ctx context.Context, p models.SchedulePolicy) (*models.SchedulePolicy, error)
	UpdatePolicy(ctx context.Context, id string, p models.SchedulePolicy) (*models.SchedulePolicy, error)
}

type importResult struct {
	Created int
	Updated int
}

// importPolicies upserts seeds by name, stopping at the first invalid policy.
func importPolicies(ctx context.Context, store policyStore, seeds []models.SchedulePolicy) (importResult, error) {
	var result importResult
	for _, seed := range seeds {
		existing, err := store.GetPolicyByName(ctx, seed.Name)
		switch {
		case errors.Is(err, publishing.ErrNotFound):
			if _, err := store.CreatePolicy(ctx, seed); err != nil {
				return result, fmt.Errorf("create policy %q: %w", seed.Name, err)
			}
			result.Created++
		case err != nil:
			return result, err
		default:
			if _, err := store.UpdatePolicy(ctx, existing.ID, seed); err != nil {
				return result, fmt.Errorf("update policy %q: %w", seed.Name, err)
			}
			result.Updated++
		}
	}
	return result, nil
}

func describeCadence(p models.SchedulePolicy) string {
	if p.Cadence == models.CadenceCustom && p.IntervalMinutes != nil {
		return fmt.Sprintf("custom/%dm", *p.IntervalMinutes)
	}
	return string(p.Cadence)
}

func describeBlackout(p models.SchedulePolicy) string {
	start, end, ok, err := p.Blackout()
	if err != nil || !ok {
		return "-"
	}
	return start.String() + "-" + end.String()
}

func describeCap(p models.SchedulePolicy) string {
	if !p.HasDailyCap() {
		return "-"
	}
	return fmt.Sprintf("%d", *p.DailyCap)
}
