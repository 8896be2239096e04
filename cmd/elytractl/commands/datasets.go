package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewDatasetsCommand builds the "datasets" command group: list, register, rm.
func NewDatasetsCommand(serverAddr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Inspect and manage datasets registered with the control plane",
	}

	cmd.AddCommand(newDatasetsListCommand(serverAddr))
	cmd.AddCommand(newDatasetsRegisterCommand(serverAddr))
	cmd.AddCommand(newDatasetsRmCommand(serverAddr))

	return cmd
}

func newDatasetsListCommand(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			datasets, err := listDatasets(*serverAddr)
			if err != nil {
				return fmt.Errorf("list datasets: %w", err)
			}

			printDatasetsTable(cmd, datasets)

			return nil
		},
	}
}

func printDatasetsTable(cmd *cobra.Command, datasets []datasetSummary) {
	writer := table.NewWriter()
	writer.SetOutputMirror(cmd.OutOrStdout())
	writer.SetStyle(table.StyleLight)
	writer.AppendHeader(table.Row{"ID", "NAME", "FORMAT", "ROW GROUPS", "AGE"})

	for _, d := range datasets {
		age := time.Since(time.UnixMilli(d.Timestamp)).Round(time.Second)
		writer.AppendRow(table.Row{d.ID, d.Name, d.Format, d.RowGroupCount, humanize.Time(time.Now().Add(-age))})
	}

	writer.Render()
}

func newDatasetsRegisterCommand(serverAddr *string) *cobra.Command {
	var (
		name         string
		storageKey   string
		bucket       string
		rowGroupFile string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a dataset mirror with the control plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rowGroups, err := loadRowGroups(rowGroupFile)
			if err != nil {
				return fmt.Errorf("load row groups: %w", err)
			}

			resp, err := registerDataset(*serverAddr, registerDatasetRequest{
				Name:       name,
				StorageKey: storageKey,
				Bucket:     bucket,
				RowGroups:  rowGroups,
			})
			if err != nil {
				errorColor(cmd).Fprintf(cmd.ErrOrStderr(), "register failed: %v\n", err) //nolint:errcheck

				return err
			}

			successColor(cmd).Fprintf(cmd.OutOrStdout(), "registered %s (%d row groups)\n", //nolint:errcheck
				resp.DatasetID, resp.RowGroupCount)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "dataset name")
	cmd.Flags().StringVar(&storageKey, "storage-key", "", "object storage key prefix")
	cmd.Flags().StringVar(&bucket, "bucket", "", "object storage bucket")
	cmd.Flags().StringVar(&rowGroupFile, "row-groups", "", "path to a JSON file describing row groups")

	return cmd
}

func loadRowGroups(path string) ([]rowGroupInput, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var rowGroups []rowGroupInput

	err = json.Unmarshal(raw, &rowGroups)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return rowGroups, nil
}

func newDatasetsRmCommand(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <dataset-id>",
		Short: "Delete a dataset's on-disk mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := deleteDataset(*serverAddr, args[0])
			if err != nil {
				errorColor(cmd).Fprintf(cmd.ErrOrStderr(), "delete failed: %v\n", err) //nolint:errcheck

				return err
			}

			successColor(cmd).Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0]) //nolint:errcheck

			return nil
		},
	}
}

func successColor(cmd *cobra.Command) *color.Color {
	c := color.New(color.FgGreen)
	c.EnableColor()

	if cmd.OutOrStdout() != os.Stdout {
		c.DisableColor()
	}

	return c
}

func errorColor(cmd *cobra.Command) *color.Color {
	c := color.New(color.FgRed)
	c.EnableColor()

	if cmd.ErrOrStderr() != os.Stderr {
		c.DisableColor()
	}

	return c
}
