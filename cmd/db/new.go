package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var migrationDirs = map[string]string{
	backendPostgres: filepath.Join("internal", "migrations", "postgres", "sql"),
	backendSQLite:   filepath.Join("internal", "migrations", "sql"),
}

func newMigrationCmd() *cobra.Command {
	var driver string

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			dir, ok := migrationDirs[driver]
			if !ok {
				return fmt.Errorf("unsupported driver %q", driver)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read migrations directory: %w", err)
			}

			nextNum := getNextMigrationNum(entries)
			filename := filepath.Join(dir, fmt.Sprintf("%06d_%s.sql", nextNum, name))

			if _, err := os.Stat(filename); err == nil {
				return fmt.Errorf("migration file already exists: %s", filename)
			}

			content := fmt.Sprintf("-- Migration: %s\n\n", name)
			if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
				return fmt.Errorf("failed to create migration file: %w", err)
			}

			fmt.Printf("Created migration: %s\n", filename)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", backendPostgres, "migration set: postgres or sqlite")
	return cmd
}

func getNextMigrationNum(entries []os.DirEntry) int {
	var nextNum int
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(entry.Name(), "_")
		num, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if num > nextNum {
			nextNum = num
		}
	}
	return nextNum + 1
}
