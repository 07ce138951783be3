package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"agentdesk/config"
	"agentdesk/internal/conversation"
	"agentdesk/internal/credentials"
	"agentdesk/pkg/db"
	"agentdesk/pkg/migration"
	"agentdesk/version"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type CheckResult struct {
	Name    string
	Status  Status
	Summary string
	Details []string
	Actions []string
}

type Report struct {
	Checks []CheckResult
}

func (r Report) HasFailures() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

// Options carries what the checks inspect. Zero fields are resolved from the
// default config locations.
type Options struct {
	ConfigFile   string
	DatabasePath string
	Credentials  *credentials.Provider
	// OpenStore opens the configured conversation store.
	OpenStore  func(ctx context.Context, settings config.StoreSettings) (conversation.Store, error)
	HTTPClient *http.Client
}

func GenerateReport(ctx context.Context, opts Options) Report {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	var checks []CheckResult

	checks = append(checks, checkMetadata())

	configResult, settings := checkConfig(opts.ConfigFile)
	checks = append(checks, configResult)

	checks = append(checks, checkCredential(opts.Credentials))
	checks = append(checks, checkDataStore(ctx, settings, opts))
	checks = append(checks, checkCompletionBackend(ctx, settings, opts.HTTPClient))
	checks = append(checks, checkTraceChannel(ctx, settings, opts.HTTPClient))

	return Report{Checks: checks}
}

func checkMetadata() CheckResult {
	result := CheckResult{Name: "Runtime Metadata", Status: StatusOK}

	execPath, err := os.Executable()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Could not resolve executable path"
		result.Details = append(result.Details, err.Error())
		return result
	}

	summaryParts := []string{version.String(), fmt.Sprintf("go runtime %s", runtime.Version())}
	buildInfo, ok := debug.ReadBuildInfo()
	if ok && buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		summaryParts = append(summaryParts, fmt.Sprintf("module %s", buildInfo.Main.Version))
	}
	result.Summary = strings.Join(summaryParts, ", ")
	result.Details = append(result.Details,
		fmt.Sprintf("Executable: %s", execPath),
		fmt.Sprintf("OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH),
	)
	if ok {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				result.Details = append(result.Details, fmt.Sprintf("VCS Revision: %s", setting.Value))
			}
		}
	}
	return result
}

func checkConfig(configFile string) (CheckResult, config.Settings) {
	result := CheckResult{Name: "Configuration", Status: StatusOK}
	settings := config.Defaults()

	if configFile == "" {
		path, err := config.GetConfigFile()
		if err != nil {
			result.Status = StatusFail
			result.Summary = "Unable to resolve config directory"
			result.Details = append(result.Details, err.Error())
			result.Actions = append(result.Actions, "verify HOME is set and accessible")
			return result, settings
		}
		configFile = path
	}
	result.Details = append(result.Details, fmt.Sprintf("Config file: %s", configFile))

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		result.Summary = "config.yaml not found, using defaults"
		result.Actions = append(result.Actions, "run 'agentdesk setup' to write one")
		return result, settings
	}

	loaded, err := config.LoadFile(configFile)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Failed to load config.yaml"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix config.yaml or rerun 'agentdesk setup'")
		return result, settings
	}

	result.Summary = fmt.Sprintf("Config loaded (store %s, model %s)", loaded.Store.Driver, loaded.Completion.Model)
	return result, loaded
}

func checkCredential(provider *credentials.Provider) CheckResult {
	result := CheckResult{Name: "API Key", Status: StatusOK}
	if provider == nil {
		result.Status = StatusWarn
		result.Summary = "No credential provider configured"
		return result
	}

	if err := provider.Reload(); err != nil {
		result.Status = StatusWarn
		result.Details = append(result.Details, err.Error())
	}
	if _, ok := provider.APIKey(); !ok {
		result.Status = StatusWarn
		result.Summary = credentials.APIKeyName + " not configured"
		result.Actions = append(result.Actions, "run 'agentdesk secret set' or 'agentdesk setup'")
		return result
	}
	result.Summary = fmt.Sprintf("%s found (%s)", credentials.APIKeyName, provider.Source())
	return result
}

func checkDataStore(ctx context.Context, settings config.Settings, opts Options) CheckResult {
	result := CheckResult{Name: "Data Store", Status: StatusOK}
	result.Details = append(result.Details, fmt.Sprintf("Driver: %s", settings.Store.Driver))

	if settings.Store.Driver == config.StoreSQLite {
		path := settings.Store.Path
		if path == "" {
			path = opts.DatabasePath
		}
		if path != "" {
			result.Details = append(result.Details, sqliteDetails(ctx, path)...)
		}
	}

	if opts.OpenStore == nil {
		result.Summary = "Store not checked"
		return result
	}

	store, err := opts.OpenStore(ctx, settings.Store)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Unable to open conversation store"
		result.Details = append(result.Details, err.Error())
		if settings.Store.Driver == config.StorePostgres {
			result.Actions = append(result.Actions, "check store.dsn and that the database accepts connections")
		}
		return result
	}
	defer store.Close()

	convs, err := store.ListConversations(ctx, 0)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Conversation store is unavailable"
		result.Details = append(result.Details, err.Error())
		return result
	}
	result.Summary = fmt.Sprintf("Store available (%d conversations)", len(convs))
	return result
}

func sqliteDetails(ctx context.Context, path string) []string {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{fmt.Sprintf("Database %s will be created on first run", path)}
		}
		return []string{fmt.Sprintf("Cannot stat %s: %v", path, err)}
	}

	details := []string{
		fmt.Sprintf("Path: %s", path),
		fmt.Sprintf("Size: %s", formatBytes(info.Size())),
		fmt.Sprintf("Last modified: %s", info.ModTime().Format(time.RFC3339)),
	}

	d, err := db.Open(path)
	if err != nil {
		return append(details, fmt.Sprintf("Open failed: %v", err))
	}
	defer d.Close()

	version, dirty, err := migration.NewRunner(d.Read()).Version(ctx)
	if err != nil {
		return append(details, fmt.Sprintf("Schema version unknown: %v", err))
	}
	line := fmt.Sprintf("Schema version: %d", version)
	if dirty {
		line += " (dirty)"
	}
	return append(details, line)
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

func checkCompletionBackend(ctx context.Context, settings config.Settings, client *http.Client) CheckResult {
	result := CheckResult{Name: "Completion Backend", Status: StatusOK}

	baseURL := settings.Completion.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	result.Details = append(result.Details,
		fmt.Sprintf("URL: %s", baseURL),
		fmt.Sprintf("Model: %s", config.ResolveModel(settings.Completion.Model)),
	)

	status, err := probe(ctx, client, baseURL, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Backend not reachable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "check network access or completion.base_url")
		return result
	}
	result.Summary = fmt.Sprintf("Backend reachable (HTTP %d)", status)
	return result
}

func checkTraceChannel(ctx context.Context, settings config.Settings, client *http.Client) CheckResult {
	result := CheckResult{Name: "Trace Channel", Status: StatusOK}

	if settings.Trace.URL == "" {
		result.Summary = "No trace URL configured; agent activity is not shown"
		result.Actions = append(result.Actions, "set trace.url in config.yaml to follow agent activity")
		return result
	}
	result.Details = append(result.Details, fmt.Sprintf("URL: %s", settings.Trace.URL))

	headers := map[string]string{"Accept": "text/event-stream"}
	for k, v := range settings.Trace.Headers {
		headers[k] = v
	}
	status, err := probe(ctx, client, settings.Trace.URL, headers)
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Trace channel not reachable"
		result.Details = append(result.Details, err.Error())
		return result
	}
	if status >= 400 {
		result.Status = StatusWarn
		result.Summary = fmt.Sprintf("Trace channel answered HTTP %d", status)
		return result
	}
	result.Summary = "Trace channel reachable"
	return result
}

// probe issues a GET and returns the status code. Only the headers are read.
func probe(ctx context.Context, client *http.Client, url string, headers map[string]string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
