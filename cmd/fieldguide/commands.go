package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/fieldguide/internal/api"
	"github.com/kalambet/fieldguide/internal/config"
	"github.com/kalambet/fieldguide/internal/session"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a running server a protocol question",
	Long: `Ask a running server a protocol question.

Examples:
  fieldguide ask "How do I treat heat exhaustion?"
  fieldguide ask --preset comms-failure`,
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, _ := cmd.Flags().GetString("preset")
		asJSON, _ := cmd.Flags().GetBool("json")
		question := strings.TrimSpace(strings.Join(args, " "))

		if question == "" && preset == "" {
			return fmt.Errorf("a question or --preset is required")
		}
		if question != "" && preset != "" {
			return fmt.Errorf("give either a question or --preset, not both")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		rec, err := ask(cmd.Context(), client, api.AskRequest{Question: question, Preset: preset})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		printAnswer(os.Stdout, rec)
		return nil
	},
}

func init() {
	askCmd.Flags().String("preset", "", "ask the question behind a preset (see `fieldguide presets`)")
	askCmd.Flags().Bool("json", false, "print the answer record as JSON")
}

// ask runs one question in a throwaway session.
func ask(ctx context.Context, client *apiClient, req api.AskRequest) (session.AnswerRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var snap session.Snapshot
	if err := client.call(ctx, http.MethodPost, "/api/sessions", nil, &snap); err != nil {
		return session.AnswerRecord{}, err
	}
	defer client.call(context.Background(), http.MethodDelete, "/api/sessions/"+snap.ID, nil, nil)

	var rec session.AnswerRecord
	if err := client.call(ctx, http.MethodPost, "/api/sessions/"+snap.ID+"/questions", req, &rec); err != nil {
		return session.AnswerRecord{}, err
	}
	return rec, nil
}

// --- presets ---

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the quick-access preset questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range session.Presets() {
			fmt.Printf("%s %-22s %s\n", p.Icon, colorize(colorCyan, p.ID), p.Question)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), client)
	},
}

func showStatus(ctx context.Context, client *apiClient) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var st api.StatusResponse
	resp, err := client.get(ctx, "/api/status")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	if err := decodeJSON(resp, &st); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}

	printStatus("Server", "running at %s", client.baseURL)
	printStatus("Index", "%s", st.Index)
	if st.Error != "" {
		printError("%s", st.Error)
	}
	printStatus("Documents", "%d files, %d pages, %d chunks", st.Files, st.Pages, st.Chunks)
	if st.Skipped > 0 {
		printWarning("%d files skipped", st.Skipped)
	}
	printStatus("Sessions", "%d", st.Sessions)
	for _, src := range st.Sources {
		if src.Reason != "" {
			fmt.Fprintf(diag, "    %s  %s (%s)\n", src.File, src.Status, src.Reason)
			continue
		}
		fmt.Fprintf(diag, "    %s  %s, %d pages, %d chunks\n", src.File, src.Status, src.Pages, src.Chunks)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSecretCmd = &cobra.Command{
	Use:   "secret <llm.api_key|embedding.api_key> <value>",
	Short: "Store an API key in the local secrets file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSecretCmd)
}
