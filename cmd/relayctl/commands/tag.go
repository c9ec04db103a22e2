package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage the global tag list",
	}

	cmd.AddCommand(tagListCmd())
	cmd.AddCommand(tagAddCmd())
	cmd.AddCommand(tagDeleteCmd())

	return cmd
}

func tagListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known tags",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			body, err := client.get(context.Background(), "/api/tags", nil)
			if err != nil {
				return fmt.Errorf("list tags: %w", err)
			}

			var tags []string
			if err := json.Unmarshal(body, &tags); err != nil {
				return fmt.Errorf("decode tags: %w", err)
			}

			out, err := formatTags(tags, outputFormat)
			if err != nil {
				return fmt.Errorf("format tags: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func tagAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{"name": args[0]}
			if _, err := client.postJSON(context.Background(), "/api/tags", body); err != nil {
				return fmt.Errorf("add tag: %w", err)
			}
			fmt.Println("added")
			return nil
		},
	}
}

func tagDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.delete(context.Background(), "/api/tags/"+args[0]); err != nil {
				return fmt.Errorf("delete tag: %w", err)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}
