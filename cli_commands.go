package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"predictive-maintenance/config"
	"predictive-maintenance/machine"
)

var (
	rootCmd = &cobra.Command{
		Use:   "predictive-maintenance",
		Short: "Machine failure risk ranking over ingested sensor profiles",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			appConfig = cfg
			return nil
		},
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, live risk updates and metrics",
		Run:   runServe,
	}
	ingestCmd = &cobra.Command{
		Use:   "ingest [dataset.csv]",
		Short: "Replace the machine population with a cleaned dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIngest,
	}
	rankCmd = &cobra.Command{
		Use:   "rank",
		Short: "Print a page of the risk ranking",
		RunE:  runRank,
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write a page of the risk ranking to CSV",
		RunE:  runExport,
	}

	envFile   string
	appConfig config.Config

	protocol   string
	port       string
	rankPage   int
	modelName  string
	exportPage int
	exportOut  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file to load")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model to score with (defaults to the catalog default)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&protocol, "proto", "http", "Protocol to use (http or https)")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to use (defaults to PM_PORT)")

	rootCmd.AddCommand(ingestCmd)

	rootCmd.AddCommand(rankCmd)
	rankCmd.Flags().IntVar(&rankPage, "page", 0, "Page of the live view (0 or 1)")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().IntVar(&exportPage, "page", 0, "Page to export")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Destination file (defaults to a timestamped file in the export dir)")
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port == "" {
		port = appConfig.Port
	}
	if modelName != "" {
		appConfig.DefaultModel = modelName
	}
	serve(ctx, appConfig, protocol, port)
}

func openCLIApp(ctx context.Context) (*app, error) {
	cfg := appConfig
	if modelName != "" {
		cfg.DefaultModel = modelName
	}
	return newApp(ctx, cfg, prometheus.NewRegistry())
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLIApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path := appConfig.DatasetPath
	if len(args) == 1 {
		path = args[0]
	}
	result, err := a.wb.Ingest(ctx, path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingested %s: %d rows, %d profiles\n", result.Source, result.Rows, result.Profiles)
	fmt.Fprintf(out, "Dropped %d malformed rows, %d duplicates, %d rejected\n", result.Dropped, result.Duplicates, result.Rejected)
	for _, feature := range clippedFeatures(result.Clipped) {
		fmt.Fprintf(out, "Clipped %d %s values\n", result.Clipped[feature], feature)
	}
	if result.ProcessedPath != "" {
		fmt.Fprintf(out, "Processed dataset written to %s\n", result.ProcessedPath)
	} else {
		fmt.Fprintln(out, "Processed dataset was not written, see the log")
	}
	return nil
}

func runRank(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLIApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.wb.RiskPage(ctx, rankPage)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Risk ranking (%s), page %d of %d, %d machines\n",
		view.Model, view.Page+1, view.Pages, view.Total)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tMACHINE\tTYPE\tRISK\tLEVEL")
	for _, e := range view.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\n", e.Rank, e.MachineID, e.MachineType, e.Score, e.Level)
	}
	return tw.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openCLIApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	page := exportPage
	record, err := a.wb.ExportPage(ctx, &page, exportOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d machines (page %d) to %s\n", record.Entries, record.Page+1, record.Path)
	return nil
}

func clippedFeatures(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for _, name := range machine.NumericFeatures {
		if _, ok := m[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}
