// cmd/harvester is the thin CLI shell over the Scan Harvester (§4.6):
// a single entry point that runs one harvest pass against the
// configured Nessus-shaped scan API and reports the outcome.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/config"
	"github.com/dpaw/resource-tracking/internal/harvester"
	"github.com/dpaw/resource-tracking/internal/logging"
	"github.com/dpaw/resource-tracking/internal/utils"
)

var (
	flagVulnerabilityDetail bool
	flagOutput              string
)

// harvestSummary is the structured form of a RunResult, printed as YAML
// when --output=yaml, paralleling the teacher's --output json convention.
type harvestSummary struct {
	Message  string   `yaml:"message"`
	Published []string `yaml:"published"`
	Skipped   map[string]string `yaml:"skipped,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Run one scan-report harvest pass",
	Args:  cobra.NoArgs,
	RunE:  runHarvest,
}

func init() {
	rootCmd.Flags().BoolVar(&flagVulnerabilityDetail, "vulnerability-detail", true, "Keep each host's per-vulnerability list in published output")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "Output format: yaml (default is a plain table)")
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)
	if err := cfg.RequireHarvester(); err != nil {
		return err
	}

	blobClient, err := blobstore.NewAzureClient(cfg.AzureStorageConn, cfg.NessusContainer)
	if err != nil {
		return fmt.Errorf("connecting to blob storage: %w", err)
	}
	client := harvester.NewClient(cfg.NessusBase, cfg.NessusURL, cfg.NessusAccessKey, cfg.NessusSecretKey)
	h := harvester.New(cfg, client, blobClient, flagVulnerabilityDetail)

	result, err := h.Run(cmd.Context())
	if err != nil {
		return err
	}

	published := make([]string, 0, len(result.Published))
	for group := range result.Published {
		published = append(published, group)
	}

	if flagOutput == "yaml" {
		enc, err := yaml.Marshal(harvestSummary{Message: result.Message, Published: published, Skipped: result.Skipped})
		if err != nil {
			return fmt.Errorf("marshaling harvest summary: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(enc)
		return err
	}

	tp := utils.NewTablePrinterTo(cmd.OutOrStdout())
	tp.Header("GROUP", "STATUS", "DETAIL")
	for _, group := range published {
		tp.Row(group, "published", result.Message)
	}
	for group, reason := range result.Skipped {
		tp.Row(group, "skipped", reason)
	}
	tp.Flush()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
