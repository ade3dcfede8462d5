package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
	"github.com/abdul-hamid-achik/fetchkit/packages/history"
	"github.com/abdul-hamid-achik/fetchkit/packages/reqfile"
)

var sendCmd = &cobra.Command{
	Use:   "send [url]",
	Short: "Send one HTTP request and print the response",
	Long: `Send an HTTP request described by flags or a YAML request file.

Examples:
  fetchkit send https://api.example.com/users
  fetchkit send https://api.example.com/users -X POST -d '{"name":"alice"}'
  fetchkit send -f request.yaml
  fetchkit send -f request.yaml --watch
  fetchkit send https://api.example.com/users --schema user-list.schema.json
  fetchkit send https://api.example.com/users --retry 2 --timeout 5s`,
	Args: cobra.MaximumNArgs(1),
	RunE: sendCommand,
}

// WatchDebounceDelay is the debounce delay for file watch events
const WatchDebounceDelay = 300 * time.Millisecond

var (
	sendFileFlag         string
	sendMethodFlag       string
	sendHeaderFlags      []string
	sendQueryFlags       []string
	sendDataFlag         string
	sendUserFlag         string
	sendBearerFlag       string
	sendTimeoutFlag      string
	sendTotalTimeoutFlag string
	sendRetryFlag        int
	sendRetryDelayFlag   string
	sendRedirectFlag     string
	sendMaxRedirectsFlag int
	sendInsecureFlag     bool
	sendProxyFlag        string
	sendJSONFlag         bool
	sendNoColorFlag      bool
	sendVerboseFlag      bool
	sendWatchFlag        bool
	sendSchemaFlag       string
	sendHistoryFlag      string
)

func init() {
	sendCmd.Flags().StringVarP(&sendFileFlag, "file", "f", "", "YAML request file")
	sendCmd.Flags().StringVarP(&sendMethodFlag, "method", "X", "", "Request method")
	sendCmd.Flags().StringArrayVarP(&sendHeaderFlags, "header", "H", nil, "Request header (\"Name: value\"), repeatable")
	sendCmd.Flags().StringArrayVarP(&sendQueryFlags, "query", "q", nil, "Query parameter (\"key=value\"), repeatable")
	sendCmd.Flags().StringVarP(&sendDataFlag, "data", "d", "", "Request body; a JSON object is sent as JSON, anything else as text")
	sendCmd.Flags().StringVarP(&sendUserFlag, "user", "u", "", "Basic auth credentials (\"user:password\")")
	sendCmd.Flags().StringVar(&sendBearerFlag, "bearer", "", "Bearer token")
	sendCmd.Flags().StringVar(&sendTimeoutFlag, "timeout", getEnvString("FETCHKIT_TIMEOUT", ""), "Per-attempt timeout (e.g., 30s) (env: FETCHKIT_TIMEOUT)")
	sendCmd.Flags().StringVar(&sendTotalTimeoutFlag, "total-timeout", "", "Timeout for the whole call including retries")
	sendCmd.Flags().IntVar(&sendRetryFlag, "retry", 0, "Number of retries for retryable failures")
	sendCmd.Flags().StringVar(&sendRetryDelayFlag, "retry-delay", "", "Fixed delay between retries")
	sendCmd.Flags().StringVar(&sendRedirectFlag, "redirect", "", "Redirect mode: follow or manual")
	sendCmd.Flags().IntVar(&sendMaxRedirectsFlag, "max-redirects", 0, "Maximum redirects to follow")
	sendCmd.Flags().BoolVarP(&sendInsecureFlag, "insecure", "k", false, "Disable SSL certificate validation")
	sendCmd.Flags().StringVar(&sendProxyFlag, "proxy", getEnvString("FETCHKIT_PROXY", ""), "Proxy URL (env: FETCHKIT_PROXY)")
	sendCmd.Flags().BoolVar(&sendJSONFlag, "json", false, "Print the full response envelope as JSON")
	sendCmd.Flags().BoolVar(&sendNoColorFlag, "no-color", getEnvBool("FETCHKIT_NO_COLOR", false), "Disable colored output (env: FETCHKIT_NO_COLOR)")
	sendCmd.Flags().BoolVarP(&sendVerboseFlag, "verbose", "v", false, "Print response headers")
	sendCmd.Flags().BoolVarP(&sendWatchFlag, "watch", "w", false, "Watch the request file and re-send on change")
	sendCmd.Flags().StringVar(&sendSchemaFlag, "schema", "", "JSON schema file to validate the response body against")
	sendCmd.Flags().StringVar(&sendHistoryFlag, "history", getEnvString("FETCHKIT_HISTORY", ""), "SQLite file to log calls to (env: FETCHKIT_HISTORY)")
}

func sendCommand(cmd *cobra.Command, args []string) error {
	if sendFileFlag == "" && len(args) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error: a url argument or --file is required")
		os.Exit(ExitUsageError)
	}
	if sendWatchFlag && sendFileFlag == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error: --watch requires --file")
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !sendWatchFlag {
		if code := sendOnce(ctx, cmd, args); code != ExitSuccess {
			os.Exit(code)
		}
		return nil
	}
	return watchAndSend(ctx, cmd, args)
}

// sendOnce builds the request, dispatches it, prints the outcome and returns
// the exit code.
func sendOnce(ctx context.Context, cmd *cobra.Command, args []string) int {
	cfg, code := buildSendConfig(cmd, args)
	if code != ExitSuccess {
		return code
	}

	resp, err := fetch.Do(ctx, cfg)
	recordHistory(cmd, resp, err)

	if err != nil {
		printError(cmd, err)
		return exitCodeFor(err)
	}

	if err := printResponse(cmd, resp); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return ExitParseError
	}

	if sendSchemaFlag != "" {
		if code := validateSchema(cmd, resp); code != ExitSuccess {
			return code
		}
	}

	if !resp.OK {
		return ExitRequestFailure
	}
	return ExitSuccess
}

// buildSendConfig assembles the request config: the request file first, flag
// overrides merged on top.
func buildSendConfig(cmd *cobra.Command, args []string) (fetch.Config, int) {
	var cfg fetch.Config

	if sendFileFlag != "" {
		req, err := reqfile.Load(sendFileFlag)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return fetch.Config{}, ExitParseError
		}
		cfg, err = req.Config()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return fetch.Config{}, ExitConfigError
		}
	}

	override, err := flagConfig(args)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return fetch.Config{}, ExitConfigError
	}

	return fetch.Merge(cfg, override), ExitSuccess
}

func flagConfig(args []string) (fetch.Config, error) {
	var cfg fetch.Config

	if len(args) > 0 {
		cfg.URL = args[0]
	}
	cfg.Method = sendMethodFlag

	if len(sendHeaderFlags) > 0 {
		cfg.Headers = make(map[string]any, len(sendHeaderFlags))
		for _, h := range sendHeaderFlags {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fetch.Config{}, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
			}
			cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	if len(sendQueryFlags) > 0 {
		cfg.Params = make(map[string]any, len(sendQueryFlags))
		for _, q := range sendQueryFlags {
			key, value, ok := strings.Cut(q, "=")
			if !ok {
				return fetch.Config{}, fmt.Errorf("invalid query parameter %q, want \"key=value\"", q)
			}
			// Repeated keys accumulate into an array.
			if existing, ok := cfg.Params[key]; ok {
				if arr, isArr := existing.([]any); isArr {
					cfg.Params[key] = append(arr, value)
				} else {
					cfg.Params[key] = []any{existing, value}
				}
				continue
			}
			cfg.Params[key] = value
		}
	}

	if sendDataFlag != "" {
		cfg.Data = parseDataFlag(sendDataFlag)
	}

	if sendUserFlag != "" {
		username, password, _ := strings.Cut(sendUserFlag, ":")
		cfg.Auth = &fetch.Auth{Username: username, Password: password}
	} else if sendBearerFlag != "" {
		cfg.Auth = &fetch.Auth{Bearer: sendBearerFlag}
	}

	parseDur := func(name, value string, dst *time.Duration) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
		return nil
	}
	if err := parseDur("timeout", sendTimeoutFlag, &cfg.Timeout); err != nil {
		return fetch.Config{}, err
	}
	if err := parseDur("total-timeout", sendTotalTimeoutFlag, &cfg.TotalTimeout); err != nil {
		return fetch.Config{}, err
	}
	if err := parseDur("retry-delay", sendRetryDelayFlag, &cfg.RetryDelay); err != nil {
		return fetch.Config{}, err
	}
	cfg.Retry = sendRetryFlag
	cfg.MaxRedirects = sendMaxRedirectsFlag

	switch sendRedirectFlag {
	case "":
	case "follow":
		cfg.Redirect = fetch.RedirectFollow
	case "manual":
		cfg.Redirect = fetch.RedirectManual
	default:
		return fetch.Config{}, fmt.Errorf("unknown redirect mode %q", sendRedirectFlag)
	}

	if sendInsecureFlag || sendProxyFlag != "" {
		opts := []fetch.AdapterOption{fetch.WithValidateSSL(!sendInsecureFlag)}
		if sendProxyFlag != "" {
			opts = append(opts, fetch.WithProxy(sendProxyFlag))
		}
		cfg.Adapter = fetch.NewHTTPAdapter(opts...)
	}

	return cfg, nil
}

// parseDataFlag sends well-formed JSON objects as JSON and everything else
// as a text body.
func parseDataFlag(data string) any {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return data
}

func exitCodeFor(err error) int {
	var ferr *fetch.Error
	if !errors.As(err, &ferr) {
		return ExitNetworkError
	}
	switch ferr.Code {
	case fetch.CodeParse:
		return ExitParseError
	case fetch.CodeUnknown:
		return ExitConfigError
	default:
		return ExitNetworkError
	}
}

func printError(cmd *cobra.Command, err error) {
	color.NoColor = sendNoColorFlag
	red := color.New(color.FgRed)
	red.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)

	var ferr *fetch.Error
	if errors.As(err, &ferr) && ferr.Response != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Last status: %d after %d attempt(s)\n",
			ferr.Response.Status, len(ferr.Response.Attempts))
	}
}

func printResponse(cmd *cobra.Command, resp *fetch.Response) error {
	out := cmd.OutOrStdout()

	if sendJSONFlag {
		envelope := map[string]any{
			"status":     resp.Status,
			"statusText": resp.StatusText,
			"url":        resp.URL,
			"ok":         resp.OK,
			"headers":    resp.Headers,
			"durationMs": resp.TotalDuration.Milliseconds(),
			"attempts":   len(resp.Attempts),
		}
		if len(resp.SetCookie) > 0 {
			envelope["setCookie"] = resp.SetCookie
		}
		if resp.IsJSON() {
			envelope["body"] = resp.Body
		} else {
			envelope["body"] = resp.Text()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(envelope)
	}

	color.NoColor = sendNoColorFlag
	statusColor := color.New(color.FgGreen)
	switch {
	case resp.Status >= 400:
		statusColor = color.New(color.FgRed)
	case resp.Status >= 300:
		statusColor = color.New(color.FgYellow)
	}

	statusColor.Fprintf(out, "%d %s", resp.Status, resp.StatusText)
	fmt.Fprintf(out, "  %s  (%s, %d attempt(s))\n", resp.URL, resp.TotalDuration.Round(time.Millisecond), len(resp.Attempts))

	if sendVerboseFlag {
		dim := color.New(color.Faint)
		for _, name := range resp.Headers.Keys() {
			dim.Fprintf(out, "%s: %s\n", name, resp.Headers.Get(name))
		}
		for _, sc := range resp.SetCookie {
			dim.Fprintf(out, "set-cookie: %s\n", sc)
		}
	}

	if len(resp.RawBody) > 0 {
		fmt.Fprintln(out)
		if resp.IsJSON() {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp.RawBody, "", "  "); err == nil {
				fmt.Fprintln(out, pretty.String())
				return nil
			}
		}
		fmt.Fprintln(out, resp.Text())
	}
	return nil
}

func validateSchema(cmd *cobra.Command, resp *fetch.Response) int {
	abs, err := filepath.Abs(sendSchemaFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return ExitConfigError
	}

	schemaLoader := gojsonschema.NewReferenceLoader("file://" + abs)
	documentLoader := gojsonschema.NewBytesLoader(resp.RawBody)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: schema validation: %v\n", err)
		return ExitParseError
	}

	if !result.Valid() {
		color.NoColor = sendNoColorFlag
		red := color.New(color.FgRed)
		red.Fprintln(cmd.ErrOrStderr(), "Schema validation failed:")
		for _, desc := range result.Errors() {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", desc)
		}
		return ExitRequestFailure
	}
	return ExitSuccess
}

func recordHistory(cmd *cobra.Command, resp *fetch.Response, sendErr error) {
	if sendHistoryFlag == "" {
		return
	}

	store, err := history.Open(sendHistoryFlag)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if sendErr != nil {
		var ferr *fetch.Error
		if errors.As(sendErr, &ferr) {
			if _, err := store.RecordError(ctx, ferr); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
		}
		return
	}
	if _, err := store.RecordResponse(ctx, resp); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
}

// watchAndSend re-dispatches the request whenever the request file changes.
func watchAndSend(ctx context.Context, cmd *cobra.Command, args []string) error {
	sendOnce(ctx, cmd, args)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(sendFileFlag)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", sendFileFlag, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %s for changes... (press Ctrl+C to stop)\n", sendFileFlag)

	var debounceTimer *time.Timer
	watched := filepath.Clean(sendFileFlag)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) || filepath.Clean(event.Name) != watched {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "\nFile changed: %s\n\n", event.Name)
				sendOnce(ctx, cmd, args)
				fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %s for changes... (press Ctrl+C to stop)\n", sendFileFlag)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: watcher error: %v\n", err)
		}
	}
}
