package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <transcript.json>",
	Short: "Store a transcript as a conversation",
	Long: `Store a transcript as a conversation.

The file holds a JSON array of {"speaker", "text", "start"} records, where
start is the offset from the beginning of the conversation in milliseconds.
Use "-" to read from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		clock, _ := cmd.Flags().GetString("time")
		source, _ := cmd.Flags().GetString("source")

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
			if source == "" {
				source = args[0]
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingestor.Ingest(cmd.Context(), ingest.Request{Reader: in, Date: date, Time: clock, Source: source})
		if err != nil {
			return err
		}

		fmt.Printf("Conversation %d: %d message(s), %d record(s) skipped\n", res.ConversationID, res.Messages, res.Skipped)
		for _, w := range res.Warnings {
			fmt.Printf("  warning: no embedding for %v\n", w)
		}
		if len(res.PendingHandles) > 0 {
			fmt.Println("Users without an external handle:")
			for _, u := range res.PendingHandles {
				fmt.Printf("  %d\t%s\n", u.ID, u.DisplayName)
			}
			fmt.Println(`Set one with "kioku users set-handle <id> <handle>".`)
		}
		return nil
	},
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Recompute stored embeddings, e.g. after an encoder upgrade",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		missing, _ := cmd.Flags().GetBool("missing")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingestor.Reembed(cmd.Context(), ingest.ReembedOptions{OnlyMissing: missing})
		if err != nil {
			return err
		}
		fmt.Printf("Re-embedded %d of %d message(s): %d cleared, %d failed\n", res.Updated, res.Total, res.Cleared, res.Failed)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("date", "", "conversation start date (YYYY-MM-DD)")
	ingestCmd.Flags().String("time", "", "conversation start time (HH:MM or HH:MM:SS)")
	ingestCmd.Flags().String("source", "", "label recorded with the conversation (default: the file name)")
	_ = ingestCmd.MarkFlagRequired("date")
	_ = ingestCmd.MarkFlagRequired("time")

	reembedCmd.Flags().Bool("missing", false, "only embed messages without a stored vector")

	rootCmd.AddCommand(ingestCmd, reembedCmd)
}
