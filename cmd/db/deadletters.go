package main

import (
	"fmt"
	"os"
	"time"

	go_json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/garrettladley/hookgate/internal/db"
	"github.com/garrettladley/hookgate/internal/storage"
)

type deadLetterLine struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	EventID   string `json:"event_id,omitempty"`
	Reason    string `json:"reason"`
	Retries   int    `json:"retries"`
	CreatedAt string `json:"created_at"`
	Payload   string `json:"payload,omitempty"`
}

func deadLettersCmd() *cobra.Command {
	var (
		source      string
		limit       int
		withPayload bool
	)

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Print recorded dead letters as JSON lines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			pool, _, err := db.ConnectPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			letters, err := storage.NewPostgresDeadLetterStore(pool).DeadLetters(cmd.Context(), source, limit)
			if err != nil {
				return err
			}

			enc := go_json.NewEncoder(os.Stdout)
			for _, dl := range letters {
				line := deadLetterLine{
					ID:        dl.ID,
					Source:    dl.Source,
					EventID:   dl.EventID,
					Reason:    dl.Reason,
					Retries:   dl.Retries,
					CreatedAt: dl.CreatedAt.UTC().Format(time.RFC3339),
				}
				if withPayload {
					line.Payload = string(dl.Payload)
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only show this provider")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of dead letters")
	cmd.Flags().BoolVar(&withPayload, "payload", false, "include the raw payload")
	return cmd
}
