package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

type deviceRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// formatDevices renders a slice of devices in the requested format.
func formatDevices(devices []deviceRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(devices)
	case formatTable:
		var b strings.Builder
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME")
		for _, d := range devices {
			fmt.Fprintf(tw, "%s\t%s\n", d.ID, d.Name)
		}
		if err := tw.Flush(); err != nil {
			return "", fmt.Errorf("flush table: %w", err)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

type fileRow struct {
	ID           int64    `json:"id"`
	DisplayName  string   `json:"display_name"`
	Mime         string   `json:"mime"`
	ByteSize     int64    `json:"byte_size"`
	OriginPeerID string   `json:"origin_peer_id"`
	DestPeerID   string   `json:"destination_peer_id"`
	IsClipboard  bool     `json:"is_clipboard"`
	Tags         []string `json:"tags"`
	CreatedAt    string   `json:"created_at"`
}

// formatFiles renders a slice of files in the requested format.
func formatFiles(files []fileRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(files)
	case formatTable:
		var b strings.Builder
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSIZE\tFROM\tTO\tTAGS\tCREATED")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
				f.ID, f.DisplayName, f.ByteSize, valueOrDash(f.OriginPeerID), valueOrDash(f.DestPeerID),
				strings.Join(f.Tags, ","), f.CreatedAt)
		}
		if err := tw.Flush(); err != nil {
			return "", fmt.Errorf("flush table: %w", err)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatTags renders a slice of tag names in the requested format.
func formatTags(tags []string, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(tags)
	case formatTable:
		var b strings.Builder
		for _, t := range tags {
			fmt.Fprintln(&b, t)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(out) + "\n", nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
