package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitewatch/monitor/internal/api"
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Issue one authenticated GET and print the JSON response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := api.New(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, api.WithToken(cfg.API.Token))
		return runGet(cmd, client, args[0])
	},
}

func runGet(cmd *cobra.Command, client *api.Client, path string) error {
	var body json.RawMessage
	if err := client.Get(cmd.Context(), path, &body); err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			fmt.Fprintln(cmd.ErrOrStderr(), apiErr.Message)
		}
		return err
	}
	if len(body) == 0 {
		return nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	out.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(out.Bytes())
	return err
}
