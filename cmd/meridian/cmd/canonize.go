package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-data/meridian/pkg/records"
)

// newCanonizeCmd builds the canonize command, which submits one fragment to
// a running engine.
func newCanonizeCmd() *cobra.Command {
	var (
		addr       string
		entityType string
		origin     string
		file       string
		stageOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "canonize",
		Short: "Submit a record fragment to a running engine",
		Long:  "Canonize reads a JSON object of field values from a file or stdin and submits it\nas a fragment to a running engine's canonize endpoint.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				input io.Reader = os.Stdin
				err   error
			)
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("opening fragment file: %w", err)
				}
				defer f.Close()
				input = f
			}

			var values map[string]any
			if err = json.NewDecoder(input).Decode(&values); err != nil {
				return fmt.Errorf("decoding fragment values: %w", err)
			}

			request := records.Request{
				Fragment: records.Fragment{EntityType: entityType, Values: values},
				Origin:   origin,
			}
			if stageOnly {
				request.StageBehavior = records.StageOnly
			}

			body, err := json.Marshal(request)
			if err != nil {
				return err
			}

			httpRequest, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, addr+"/v1/canonize", bytes.NewReader(body))
			if err != nil {
				return err
			}
			httpRequest.Header.Set("Content-Type", "application/json")

			response, err := http.DefaultClient.Do(httpRequest)
			if err != nil {
				return fmt.Errorf("submitting fragment: %w", err)
			}
			defer response.Body.Close()

			output, err := io.ReadAll(response.Body)
			if err != nil {
				return err
			}
			if response.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("canonize failed with status %d: %s", response.StatusCode, bytes.TrimSpace(output))
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(output)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "http://localhost:8080", "base URL of a running engine")
	cmd.Flags().StringVarP(&entityType, "entity", "e", "", "entity type of the fragment")
	cmd.Flags().StringVarP(&origin, "origin", "o", "", "source identifier of the fragment")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of field values (defaults to stdin)")
	cmd.Flags().BoolVar(&stageOnly, "stage-only", false, "park the fragment in staging instead of canonizing")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}
