package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search procedure sections",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		scope, _ := cmd.Flags().GetString("scope")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"query": query}
		if scope != "" {
			req["scope"] = scope
		}
		if limit > 0 {
			req["limit"] = limit
		}

		resp, err := client.post(cmd.Context(), "/search", req)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				SectionID     string  `json:"section_id"`
				DocumentTitle string  `json:"document_title"`
				SectionTitle  string  `json:"section_title"`
				Content       string  `json:"content"`
				Department    string  `json:"department"`
				Similarity    float64 `json:"similarity"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			header := fmt.Sprintf("%s — %s", r.DocumentTitle, r.SectionTitle)
			fmt.Printf("\n%s [%.3f]\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, header)), r.Similarity)
			if r.Department != "" {
				fmt.Printf("   Department: %s\n", r.Department)
			}
			content := r.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			fmt.Printf("   %s\n", content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("scope", "", "department filter")
	searchCmd.Flags().Int("limit", 0, "maximum number of results")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question grounded in the stored procedures",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		scope, _ := cmd.Flags().GetString("scope")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"message": question}
		if scope != "" {
			req["scope"] = scope
		}

		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var result struct {
			Response string `json:"response"`
			Sources  []struct {
				DocumentTitle string `json:"document_title"`
				SectionTitle  string `json:"section_title"`
			} `json:"sources"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		if len(result.Sources) > 0 {
			fmt.Println()
			fmt.Println(colorize(colorBold, "Sources:"))
			for _, s := range result.Sources {
				fmt.Printf("  - %s — %s\n", s.DocumentTitle, s.SectionTitle)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("scope", "", "department filter")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a procedure document",
	Long: `Ingest a procedure document.

Examples:
  procdex ingest --file ./onboarding.md --title "Employee Onboarding" --department hr
  procdex ingest --file ./refunds.pdf --title "Refund Process" --department customer_service
  procdex ingest --text "..." --title "Escalation Policy"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		department, _ := cmd.Flags().GetString("department")
		status, _ := cmd.Flags().GetString("status")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if title == "" && file != "" {
			title = filepath.Base(file)
		}
		if title == "" {
			return fmt.Errorf("--title is required")
		}

		req := map[string]any{
			"title":      title,
			"department": department,
		}
		if status != "" {
			req["status"] = status
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			switch strings.ToLower(filepath.Ext(file)) {
			case ".pdf":
				req["type"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			case ".html", ".htm":
				req["type"] = "html"
				req["content"] = string(data)
			default:
				req["type"] = "text"
				req["content"] = string(data)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Sections int    `json:"sections"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ingested %q as %s (%d sections)", result.Title, result.ID, result.Sections)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (.pdf and .html are extracted)")
	ingestCmd.Flags().String("title", "", "document title")
	ingestCmd.Flags().String("department", "", "department tag")
	ingestCmd.Flags().String("status", "", "document status (draft, active, archived)")
}

// --- embed ---

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Populate missing section embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		sectionID, _ := cmd.Flags().GetString("section")
		regenerateAll, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{}
		if sectionID != "" {
			req["section_id"] = sectionID
		}
		if regenerateAll {
			req["regenerate_all"] = true
		}

		resp, err := client.post(cmd.Context(), "/embeddings/generate", req)
		if err != nil {
			return err
		}

		var result struct {
			Success   bool `json:"success"`
			Processed int  `json:"processed"`
			Failed    int  `json:"failed"`
			Total     int  `json:"total"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Failed > 0 {
			printError("Embedded %d of %d sections (%d failed)", result.Processed, result.Total, result.Failed)
		} else {
			printSuccess("Embedded %d of %d sections", result.Processed, result.Total)
		}
		return nil
	},
}

func init() {
	embedCmd.Flags().String("section", "", "regenerate a single section by id")
	embedCmd.Flags().Bool("all", false, "regenerate every section embedding")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show procdex system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		healthResp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}
		healthResp.Body.Close()
		if healthResp.StatusCode != 200 {
			printStatus("Server", "error (HTTP %d)", healthResp.StatusCode)
			return nil
		}
		printStatus("Server", "running at %s", client.baseURL)

		resp, err := client.get(cmd.Context(), "/status")
		if err != nil {
			return err
		}

		var status struct {
			Documents         int `json:"documents"`
			ActiveDocuments   int `json:"active_documents"`
			Sections          int `json:"sections"`
			MissingEmbeddings int `json:"missing_embeddings"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStatus("Documents", "%d (%d active)", status.Documents, status.ActiveDocuments)
		printStatus("Sections", "%d", status.Sections)
		printStatus("Missing embeddings", "%d", status.MissingEmbeddings)
		return nil
	},
}
