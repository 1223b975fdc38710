package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newHealthCmd creates the `zohabot health` command. It queries the
// gateway's /health endpoint and is meant for Docker HEALTHCHECK.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that a running gateway answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, _ := cmd.Flags().GetString("url")
			if url == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				url = fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Gateway.Port)
			}
			return checkHealth(cmd.Context(), url)
		},
	}
	cmd.Flags().String("url", "", "health endpoint (default: the configured local gateway)")
	return cmd
}

func checkHealth(ctx context.Context, url string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || resp.StatusCode != http.StatusOK || body.Status != "ok" {
		return fmt.Errorf("gateway unhealthy (HTTP %d)", resp.StatusCode)
	}
	fmt.Println(`{"status":"ok"}`)
	return nil
}
