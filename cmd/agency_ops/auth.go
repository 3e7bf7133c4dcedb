package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/agency-orchestrator/internal/config"
	"github.com/jonathan/agency-orchestrator/internal/server"
)

var (
	hashCost      int
	tokenOperator string
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an operator password for OPERATOR_PASSWORD_HASH",
	Long:  `Reads a password from the first line of stdin and prints its bcrypt hash.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password from stdin: %w", err)
		}
		hash, err := config.HashPassword(strings.TrimRight(line, "\r\n"), hashCost)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jwtConfig, err := config.LoadJWTConfig()
		if err != nil {
			return err
		}
		if jwtConfig == nil {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}

		token, expiresAt, err := server.NewJWTService(jwtConfig).GenerateToken(tokenOperator)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
		return err
	},
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", config.DefaultBcryptCost, "bcrypt cost (10-14)")
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "operator", "Token subject")
	rootCmd.AddCommand(hashPasswordCmd, tokenCmd)
}
