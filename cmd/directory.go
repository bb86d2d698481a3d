package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SystemCRM24/tendersync/internal/directory"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Dump the CRM entity-name directory as YAML",
	Long:  "Loads pipelines, stages, users, custom fields, and task types from the CRM and prints the resolved name-to-ID mappings. Useful for checking that configured names match what the account actually has.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newCRMClient()
		if err != nil {
			return err
		}

		dir := directory.New()
		if err := dir.Load(ctx, client); err != nil {
			return err
		}

		out, err := yaml.Marshal(dir.Snapshot())
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(directoryCmd)
}
