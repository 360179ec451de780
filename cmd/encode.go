package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/vibetracker/internal/frame"
)

func newEncodeCmd() *cobra.Command {
	var postURL string

	cmd := &cobra.Command{
		Use:   "encode <image>",
		Short: "Turn an image file into a capture data URI",
		Long: "Turn an image file into a data URI and print it, or post it as a " +
			"capture to a running daemon with --post.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			detected := mimetype.Detect(data)
			if !strings.HasPrefix(detected.String(), "image/") {
				return fmt.Errorf("%s is %s, not an image", args[0], detected.String())
			}
			uri := frame.EncodeToDataURI(frame.Payload{MediaType: detected.String(), Data: data})

			if postURL == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), uri)
				return err
			}
			return postCapture(cmd, postURL, uri)
		},
	}

	cmd.Flags().StringVar(&postURL, "post", "", "daemon base URL to submit the capture to")
	return cmd
}

func postCapture(cmd *cobra.Command, baseURL, uri string) error {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/captures"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewBufferString(uri))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post capture: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post capture: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
