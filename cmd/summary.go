package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/vibetracker/internal/emotion"
)

type summaryOptions struct {
	file   string
	url    string
	top    int
	asJSON bool
}

func newSummaryCmd() *cobra.Command {
	opts := &summaryOptions{}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the top emotions per application",
		Long: "Print the top emotions per application, either from a summary file " +
			"written by the daemon or live from a running daemon with --url.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "summary file (default: $DATA_DIR/summary.json)")
	cmd.Flags().StringVar(&opts.url, "url", "", "daemon base URL, e.g. http://127.0.0.1:8787")
	cmd.Flags().IntVar(&opts.top, "top", 0, "emotions per application when querying a daemon")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (o *summaryOptions) load(cmd *cobra.Command) (emotion.Summary, error) {
	if o.url == "" {
		path := o.file
		if path == "" {
			dataDir := os.Getenv("DATA_DIR")
			if dataDir == "" {
				dataDir = "./data"
			}
			path = filepath.Join(dataDir, "summary.json")
		}
		return emotion.ReadSummaryFile(path)
	}

	endpoint := strings.TrimRight(o.url, "/") + "/api/summary"
	if o.top > 0 {
		endpoint += "?top=" + strconv.Itoa(o.top)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return emotion.Summary{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return emotion.Summary{}, fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return emotion.Summary{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return emotion.Summary{}, fmt.Errorf("query daemon: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var summary emotion.Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return emotion.Summary{}, fmt.Errorf("invalid summary response: %w", err)
	}
	return summary, nil
}

func printSummary(out io.Writer, summary emotion.Summary) {
	if len(summary.Apps) == 0 {
		fmt.Fprintln(out, "No emotion records yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "APP\tRECORDS\tEMOTION\tCOUNT\tMEAN SCORE")
	fmt.Fprintln(w, "---\t-------\t-------\t-----\t----------")
	for _, app := range summary.Apps {
		for i, e := range app.TopEmotions {
			name, records := app.AppID, strconv.Itoa(app.Records)
			if i > 0 {
				name, records = "", ""
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\n", name, records, e.Emotion, e.Count, e.MeanScore)
		}
	}
	w.Flush()
}
