package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds the resolved application configuration. CLI flags take
// precedence; environment variables fill the gaps.
type Config struct {
	LibraryDir   string
	DataDir      string
	DatabasePath string
	ThumbnailDir string
	Port         string
	Profile      workers.StorageProfile
}

// Options are the raw values from CLI flags; empty means unset.
type Options struct {
	LibraryDir string
	DataDir    string
	CacheDir   string
	DBPath     string
	Port       string
	Profile    string
	LogLevel   string
}

// LoadConfig resolves configuration from flags and environment, logs
// the result, and validates the directories the index depends on.
func LoadConfig(opts Options) (*Config, error) {
	printBanner()
	logSystemInfo()

	if level := firstNonEmpty(opts.LogLevel, os.Getenv("FORGE_LOG_LEVEL")); level != "" {
		logging.SetLevel(logging.ParseLevel(level))
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	dataDir := firstNonEmpty(opts.DataDir, os.Getenv("FORGE_DATA_DIR"), defaultDataDir())
	libraryDir := firstNonEmpty(opts.LibraryDir, os.Getenv("FORGE_LIBRARY_DIR"))
	dbPath := firstNonEmpty(opts.DBPath, os.Getenv("FORGE_DB_PATH"), filepath.Join(dataDir, "forge.db"))
	thumbnailDir := firstNonEmpty(opts.CacheDir, os.Getenv("FORGE_THUMB_CACHE_DIR"), filepath.Join(dataDir, "thumbnails"))
	port := firstNonEmpty(opts.Port, os.Getenv("FORGE_PORT"), "8842")
	profile := workers.ParseProfile(firstNonEmpty(opts.Profile, os.Getenv("FORGE_STORAGE_PROFILE"), "hdd"))

	logging.Info("  Library dir:      %s", emptyAsUnset(libraryDir))
	logging.Info("  Data dir:         %s", dataDir)
	logging.Info("  Database:         %s", dbPath)
	logging.Info("  Thumbnail cache:  %s", thumbnailDir)
	logging.Info("  Port:             %s", port)
	logging.Info("  Storage profile:  %s", profile)
	logging.Info("  Log level:        %s", logging.GetLevel())
	logging.Info("")

	var err error
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if libraryDir != "" {
		libraryDir, err = filepath.Abs(libraryDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
		}
	}

	if err := ensureDirectory(filepath.Dir(dbPath), "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	if err := testWriteAccess(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("database directory is not writable: %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	if err := ensureDirectory(thumbnailDir, "thumbnail cache"); err != nil {
		logging.Warn("  Thumbnail cache issue: %v", err)
		logging.Warn("  On-demand generation will retry on first use")
	}

	return &Config{
		LibraryDir:   libraryDir,
		DataDir:      dataDir,
		DatabasePath: dbPath,
		ThumbnailDir: thumbnailDir,
		Port:         port,
		Profile:      profile,
	}, nil
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogServerStarted logs successful server start
func LogServerStarted(port string, startupDuration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:  %v", startupDuration)
	logging.Info("")
	logging.Info("  API:      http://localhost:%s/api", port)
	logging.Info("  Metrics:  http://localhost:%s/metrics", port)
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ____                       __  ___     __
   / __/__  _______ ____      /  |/  /__  / /_____ _
  / /_/ _ \/ ___/ _ '/ _ \   / /|_/ / _ \/ __/ _ '/
 / __/ /_/ / /  / /_/ /  __/ / /  / /  __/ /_/ /_/ /
/_/  \____/_/   \__, /\___/ /_/  /_/\___/\__/\__,_/
               /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))
	logging.Info("")
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "forge-meta-link")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "forge-meta-link")
	}
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "forge-meta-link")
	}
	return "forge-meta-link-data"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func emptyAsUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("  failed to remove write-test file %s: %v", testFile, err)
	}
	return nil
}
