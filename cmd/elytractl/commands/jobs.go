package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewJobsCommand builds the "job" command group: submit.
func NewJobsCommand(serverAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit jobs to the control plane",
	}

	cmd.AddCommand(newJobSubmitCommand(serverAddr))

	return cmd
}

func newJobSubmitCommand(serverAddr *string) *cobra.Command {
	var (
		apiKey    string
		datasetID string
		opsFile   string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pipeline against a registered dataset and print the reduced result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pipeline, err := loadPipeline(opsFile)
			if err != nil {
				return fmt.Errorf("load pipeline: %w", err)
			}

			resp, err := submitJob(*serverAddr, submitJobRequest{
				APIKey:    apiKey,
				DatasetID: datasetID,
				Ops:       pipeline,
			})
			if err != nil {
				errorColor(cmd).Fprintf(cmd.ErrOrStderr(), "job failed: %v\n", err) //nolint:errcheck

				return err
			}

			out, err := json.MarshalIndent(resp.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("format result: %w", err)
			}

			successColor(cmd).Fprintf(cmd.OutOrStdout(), "job completed\n") //nolint:errcheck
			fmt.Fprintln(cmd.OutOrStdout(), string(out))                    //nolint:errcheck

			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "authentication token for the control plane")
	cmd.Flags().StringVar(&datasetID, "dataset", "", "dataset id to run the pipeline against")
	cmd.Flags().StringVar(&opsFile, "ops", "", "path to a JSON file describing the operation pipeline")

	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("ops")

	return cmd
}

// loadPipeline reads a JSON array of operation descriptors from path and
// forwards it verbatim as a json.RawMessage; elytractl never interprets
// pipeline contents.
func loadPipeline(path string) (json.RawMessage, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var probe json.RawMessage

	err = json.Unmarshal(raw, &probe)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return probe, nil
}
