/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/inkwell/internal/auth"
)

var (
	tokenUser  string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage admin API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed bearer token for the admin API",
	Long: `Signs a bearer token with INKWELL_JWT_SIGNING_KEY.

Examples:
  inkwell token issue --user ops --role admin
  inkwell token issue --user desk --role editor --ttl 8h
`,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "Subject recorded as the actor of API calls")
	tokenIssueCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleEditor}, "Role to grant (admin or editor); repeatable")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("user")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{UserID: tokenUser, Roles: tokenRoles}, tokenTTL)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
