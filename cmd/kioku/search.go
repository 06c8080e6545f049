package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/retrieval"
	"github.com/bdobrica/Kioku/internal/kioku/search"
)

func runSearch(cmd *cobra.Command, a *app.App, text string) ([]search.Result, error) {
	threshold := a.Config.Search.Threshold
	limit := a.Config.Search.Limit
	if cmd.Flags().Changed("threshold") {
		threshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	if cmd.Flags().Changed("limit") {
		limit, _ = cmd.Flags().GetInt("limit")
	}
	return a.Searcher.SearchText(cmd.Context(), text, threshold, limit)
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find stored messages similar to text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := runSearch(cmd, a, args[0])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		fmt.Printf("Found %d result(s):\n\n", len(results))
		for i, r := range results {
			m := r.Message
			fmt.Printf("  %d. [score=%.3f] %s: %s\n", i+1, r.Score, m.Speaker, m.RawText)
			fmt.Printf("     conversation %d, %s %s\n", m.ConversationID, m.Date, m.Time)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <text>",
	Short: "Print the conversation context around messages similar to text",
	Long: `Print the conversation context around messages similar to text.

The text may also be a generated reply asking for retrieval with a
|pipe-delimited| query; only the delimited part is searched then.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := args[0]
		if q, ok := retrieval.ExtractQuery(text); ok {
			text = q
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := runSearch(cmd, a, text)
		if err != nil {
			return err
		}
		out, err := a.Assembler.Assemble(cmd.Context(), results)
		if err != nil {
			return err
		}
		if out == "" {
			fmt.Println("No results found.")
			return nil
		}
		fmt.Println(out)
		return nil
	},
}

var excerptsCmd = &cobra.Command{
	Use:   "excerpts <owner-handle> <guest-handle>",
	Short: "Print style examples from recent conversations between two users",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Assembler.Excerpts(cmd.Context(), args[0], args[1])
		if errors.Is(err, retrieval.ErrNoSharedConversations) {
			fmt.Println("No shared conversations.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, contextCmd} {
		c.Flags().Float64("threshold", 0, "minimum similarity score, exclusive (default from config)")
		c.Flags().Int("limit", 0, "maximum number of hits (default from config)")
	}
	rootCmd.AddCommand(searchCmd, contextCmd, excerptsCmd)
}
