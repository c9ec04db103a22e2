package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func fileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Manage transferred files",
	}

	cmd.AddCommand(fileListCmd())
	cmd.AddCommand(fileUploadCmd())
	cmd.AddCommand(fileDownloadCmd())
	cmd.AddCommand(fileRenameCmd())
	cmd.AddCommand(fileTagCmd())
	cmd.AddCommand(fileDeleteCmd())

	return cmd
}

func fileListCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transferred files",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var q url.Values
			if tag != "" {
				q = url.Values{"tag": {tag}}
			}

			body, err := client.get(context.Background(), "/api/files", q)
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}

			var files []fileRow
			if err := json.Unmarshal(body, &files); err != nil {
				return fmt.Errorf("decode files: %w", err)
			}

			out, err := formatFiles(files, outputFormat)
			if err != nil {
				return fmt.Errorf("format files: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")

	return cmd
}

func fileUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local file into the blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body, err := client.upload(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("upload file: %w", err)
			}

			out, err := formatJSONValue(json.RawMessage(body))
			if err != nil {
				return fmt.Errorf("format response: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func fileDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <id> <dest-path>",
		Short: "Download a transferred file to a local path",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.download(context.Background(), "/api/files/"+args[0]+"/download", args[1]); err != nil {
				return fmt.Errorf("download file: %w", err)
			}
			fmt.Printf("saved to %s\n", args[1])
			return nil
		},
	}
}

func fileRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a transferred file's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]string{"originalName": args[1]}
			if _, err := client.patchJSON(context.Background(), "/api/files/"+args[0], body); err != nil {
				return fmt.Errorf("rename file: %w", err)
			}
			fmt.Println("renamed")
			return nil
		},
	}
}

func fileTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <id> <tag>...",
		Short: "Replace a file's tag set",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string][]string{"tags": args[1:]}
			if _, err := client.patchJSON(context.Background(), "/api/files/"+args[0]+"/tags", body); err != nil {
				return fmt.Errorf("retag file: %w", err)
			}
			fmt.Println("tagged")
			return nil
		},
	}
}

func fileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a transferred file and its blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid file id %q: %w", args[0], err)
			}
			if err := client.delete(context.Background(), "/api/files/"+args[0]); err != nil {
				return fmt.Errorf("delete file: %w", err)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}
