package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
	"github.com/abdul-hamid-achik/fetchkit/packages/reqfile"
	"github.com/abdul-hamid-achik/fetchkit/packages/stress"
)

var stressCmd = &cobra.Command{
	Use:   "stress [url]",
	Short: "Run a load test against a URL or request file",
	Long: `Fire the same request at a fixed rate and report latency and error
statistics.

Examples:
  fetchkit stress https://api.example.com/health --rate 50 --duration 30s
  fetchkit stress -f request.yaml --rate 100 --duration 1m
  fetchkit stress https://api.example.com/users --threshold "p95<200ms,errors<1%"
  fetchkit stress https://api.example.com/users --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: stressCommand,
}

var (
	stressFileFlag        string
	stressRateFlag        int
	stressDurationFlag    time.Duration
	stressConcurrencyFlag int
	stressThresholdFlag   string
	stressJSONFlag        bool
	stressNoProgressFlag  bool
	stressNoColorFlag     bool
	stressInsecureFlag    bool
	stressProxyFlag       string
)

func init() {
	stressCmd.Flags().StringVarP(&stressFileFlag, "file", "f", "", "YAML request file")
	stressCmd.Flags().IntVarP(&stressRateFlag, "rate", "r", 10, "Requests per second")
	stressCmd.Flags().DurationVarP(&stressDurationFlag, "duration", "d", 30*time.Second, "Test duration")
	stressCmd.Flags().IntVar(&stressConcurrencyFlag, "concurrency", 100, "Maximum in-flight requests")
	stressCmd.Flags().StringVar(&stressThresholdFlag, "threshold", "", "Pass/fail thresholds (e.g., \"p95<200ms,errors<1%,rps>50\")")
	stressCmd.Flags().BoolVar(&stressJSONFlag, "json", false, "Print the summary as JSON")
	stressCmd.Flags().BoolVar(&stressNoProgressFlag, "no-progress", false, "Disable the live progress display")
	stressCmd.Flags().BoolVar(&stressNoColorFlag, "no-color", getEnvBool("FETCHKIT_NO_COLOR", false), "Disable colored output (env: FETCHKIT_NO_COLOR)")
	stressCmd.Flags().BoolVarP(&stressInsecureFlag, "insecure", "k", false, "Disable SSL certificate validation")
	stressCmd.Flags().StringVar(&stressProxyFlag, "proxy", getEnvString("FETCHKIT_PROXY", ""), "Proxy URL (env: FETCHKIT_PROXY)")
}

func stressCommand(cmd *cobra.Command, args []string) error {
	if stressFileFlag == "" && len(args) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error: a url argument or --file is required")
		os.Exit(ExitUsageError)
	}

	request, code := buildStressRequest(cmd, args)
	if code != ExitSuccess {
		os.Exit(code)
	}

	config := &stress.Config{
		Rate:        float64(stressRateFlag),
		Duration:    stressDurationFlag,
		Concurrency: stressConcurrencyFlag,
	}
	if stressThresholdFlag != "" {
		thresholds, err := stress.ParseThresholds(stressThresholdFlag)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			os.Exit(ExitConfigError)
		}
		config.Thresholds = thresholds
	}

	reporter := stress.NewReporter(
		stress.WithWriter(cmd.OutOrStdout()),
		stress.WithNoColor(stressNoColorFlag),
		stress.WithNoProgress(stressNoProgressFlag || stressJSONFlag),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := stress.NewRunner(config, request, stress.WithReporter(reporter))
	result, err := runner.Run(ctx)
	if err != nil {
		reporter.Error("load run failed: %v", err)
		os.Exit(ExitConfigError)
	}

	if stressJSONFlag {
		if err := reporter.JSONSummary(result.Summary, result.Thresholds); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			os.Exit(ExitParseError)
		}
	}

	if result.HasThresholdFailures() {
		os.Exit(ExitRequestFailure)
	}
	return nil
}

func buildStressRequest(cmd *cobra.Command, args []string) (fetch.Config, int) {
	var request fetch.Config

	if stressFileFlag != "" {
		req, err := reqfile.Load(stressFileFlag)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return fetch.Config{}, ExitParseError
		}
		request, err = req.Config()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return fetch.Config{}, ExitConfigError
		}
	}
	if len(args) > 0 {
		request.URL = args[0]
	}

	if stressInsecureFlag || stressProxyFlag != "" {
		opts := []fetch.AdapterOption{fetch.WithValidateSSL(!stressInsecureFlag)}
		if stressProxyFlag != "" {
			opts = append(opts, fetch.WithProxy(stressProxyFlag))
		}
		request.Adapter = fetch.NewHTTPAdapter(opts...)
	}

	return request, ExitSuccess
}
