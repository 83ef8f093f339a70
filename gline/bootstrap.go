package gline

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBindingVersion is the gline-rs binding release fetched by bootstrap.
	DefaultBindingVersion = "0.1.0"

	defaultBootstrapBaseURL = "https://github.com/soundprediction/go-gline-rs/releases/download"

	maxBindingArchiveBytes = 512 << 20
	maxBindingLibraryBytes = 1 << 30
)

var (
	bootstrapLockAcquireTimeout = 5 * time.Minute
	bootstrapLockRetryInterval  = 200 * time.Millisecond
	bootstrapLockLogInterval    = 10 * time.Second
)

var errSharedLibraryNotFound = errors.New("gline binding shared library not found")
var bootstrapCacheFallbackWarnOnce sync.Once

// BootstrapOption configures EnsureSharedLibrary.
type BootstrapOption func(*bootstrapConfig) error

type bootstrapConfig struct {
	libraryPath     string
	cacheDir        string
	version         string
	disableDownload bool
	expectedSHA256  string
	baseURL         string
	httpClient      *http.Client
	goos            string
	goarch          string
}

type bindingArtifact struct {
	platform    string
	libraryName string
}

// WithBootstrapLibraryPath forces bootstrap to use an existing binding library.
func WithBootstrapLibraryPath(path string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			return fmt.Errorf("bootstrap library path cannot be empty")
		}
		cfg.libraryPath = trimmed
		return nil
	}
}

// WithBootstrapCacheDir sets the directory that holds downloaded bindings.
func WithBootstrapCacheDir(dir string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			return fmt.Errorf("bootstrap cache directory cannot be empty")
		}
		cfg.cacheDir = trimmed
		return nil
	}
}

// WithBootstrapVersion sets the binding release to download (for example: 0.1.0).
func WithBootstrapVersion(version string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		trimmed := strings.TrimSpace(version)
		if trimmed == "" {
			return fmt.Errorf("bootstrap version cannot be empty")
		}
		cfg.version = trimmed
		return nil
	}
}

// WithBootstrapDisableDownload enables or disables network download.
func WithBootstrapDisableDownload(disable bool) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.disableDownload = disable
		return nil
	}
}

// WithBootstrapExpectedSHA256 enforces a SHA256 checksum for the downloaded archive.
func WithBootstrapExpectedSHA256(checksum string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		normalized := strings.TrimSpace(strings.ToLower(checksum))
		if normalized == "" {
			return fmt.Errorf("expected SHA256 checksum cannot be empty")
		}
		if len(normalized) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters")
		}
		if _, err := hex.DecodeString(normalized); err != nil {
			return fmt.Errorf("expected SHA256 checksum must be lowercase hex")
		}
		cfg.expectedSHA256 = normalized
		return nil
	}
}

func withBootstrapBaseURL(baseURL string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed == "" {
			return fmt.Errorf("bootstrap base URL cannot be empty")
		}
		cfg.baseURL = trimmed
		return nil
	}
}

func withBootstrapHTTPClient(client *http.Client) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if client == nil {
			return fmt.Errorf("bootstrap HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

// EnsureSharedLibrary makes sure a gline binding library is available locally and
// returns its absolute path. An explicit path (option or GLINE_LIB_PATH) wins;
// otherwise the cache is consulted and, unless disabled, the release is downloaded.
func EnsureSharedLibrary(opts ...BootstrapOption) (string, error) {
	cfg, err := resolveBootstrapConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	artifact, err := resolveBindingArtifact(cfg.goos, cfg.goarch)
	if err != nil {
		return "", err
	}

	installDir := filepath.Join(cfg.cacheDir, artifact.installName(cfg.version))
	if path, resolveErr := resolveInstalledLibrary(installDir, artifact); resolveErr == nil {
		return path, nil
	} else if !errors.Is(resolveErr, errSharedLibraryNotFound) {
		return "", resolveErr
	}

	if cfg.disableDownload {
		return "", fmt.Errorf("gline binding not found in cache and download is disabled: %s", installDir)
	}

	if err := os.MkdirAll(cfg.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create bootstrap cache directory %q: %w", cfg.cacheDir, err)
	}

	lockPath := filepath.Join(cfg.cacheDir, ".locks", fmt.Sprintf("%s-%s.lock", artifact.platform, cfg.version))
	var resolvedPath string
	if err := withProcessFileLock(lockPath, func() error {
		if path, resolveErr := resolveInstalledLibrary(installDir, artifact); resolveErr == nil {
			resolvedPath = path
			return nil
		} else if !errors.Is(resolveErr, errSharedLibraryNotFound) {
			return resolveErr
		}

		if err := downloadAndInstallBinding(cfg, artifact, installDir); err != nil {
			return err
		}

		path, resolveErr := resolveInstalledLibrary(installDir, artifact)
		if resolveErr != nil {
			return fmt.Errorf("bootstrap completed but shared library could not be resolved: %w", resolveErr)
		}
		resolvedPath = path
		return nil
	}); err != nil {
		return "", err
	}

	return resolvedPath, nil
}

// OpenWithBootstrap resolves the binding via EnsureSharedLibrary and opens it.
func OpenWithBootstrap(opts ...BootstrapOption) (*Library, error) {
	path, err := EnsureSharedLibrary(opts...)
	if err != nil {
		return nil, err
	}
	return Open(path)
}

func resolveBootstrapConfig(opts ...BootstrapOption) (bootstrapConfig, error) {
	disableDownload, err := parseBootstrapBoolEnv("GLINE_DISABLE_DOWNLOAD")
	if err != nil {
		return bootstrapConfig{}, err
	}

	cfg := bootstrapConfig{
		libraryPath:     strings.TrimSpace(os.Getenv("GLINE_LIB_PATH")),
		cacheDir:        strings.TrimSpace(os.Getenv("GLINE_CACHE_DIR")),
		version:         strings.TrimSpace(os.Getenv("GLINE_VERSION")),
		disableDownload: disableDownload,
		baseURL:         defaultBootstrapBaseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
	}

	if cfg.version == "" {
		cfg.version = DefaultBindingVersion
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultBootstrapCacheDir()
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return bootstrapConfig{}, err
		}
	}

	version, err := normalizeBindingVersion(cfg.version)
	if err != nil {
		return bootstrapConfig{}, err
	}
	cfg.version = version
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return bootstrapConfig{}, fmt.Errorf("bootstrap base URL is empty")
	}

	return cfg, nil
}

func resolveBindingArtifact(goos, goarch string) (bindingArtifact, error) {
	switch goos {
	case "darwin":
		if goarch == "arm64" || goarch == "amd64" {
			return bindingArtifact{platform: "darwin-" + goarch, libraryName: "libgline_binding.dylib"}, nil
		}
	case "linux":
		if goarch == "arm64" || goarch == "amd64" {
			return bindingArtifact{platform: "linux-" + goarch, libraryName: "libgline_binding.so"}, nil
		}
	case "windows":
		if goarch == "amd64" {
			return bindingArtifact{platform: "windows-amd64", libraryName: "gline_binding.dll"}, nil
		}
	}

	return bindingArtifact{}, fmt.Errorf("unsupported platform for gline bootstrap: GOOS=%s GOARCH=%s", goos, goarch)
}

func (a bindingArtifact) installName(version string) string {
	return fmt.Sprintf("gline-binding-%s-%s", a.platform, version)
}

// archiveFilename is the release asset name, e.g. libgline_binding-linux-amd64.so.gz.
func (a bindingArtifact) archiveFilename() string {
	ext := filepath.Ext(a.libraryName)
	return fmt.Sprintf("%s-%s%s.gz", strings.TrimSuffix(a.libraryName, ext), a.platform, ext)
}

func (a bindingArtifact) downloadURL(baseURL, version string) string {
	return fmt.Sprintf("%s/v%s/%s", strings.TrimRight(baseURL, "/"), version, a.archiveFilename())
}

func resolveInstalledLibrary(installDir string, artifact bindingArtifact) (string, error) {
	path, err := validateLibraryFile(filepath.Join(installDir, artifact.libraryName))
	if err == nil {
		return path, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return "", errSharedLibraryNotFound
	}
	return "", err
}

func downloadAndInstallBinding(cfg bootstrapConfig, artifact bindingArtifact, installDir string) error {
	url := artifact.downloadURL(cfg.baseURL, cfg.version)
	archivePath, checksum, err := downloadBindingArchive(cfg, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(archivePath)
	}()

	if cfg.expectedSHA256 != "" && checksum != cfg.expectedSHA256 {
		return fmt.Errorf("download checksum mismatch: expected %s, got %s", cfg.expectedSHA256, checksum)
	}

	stagingDir := installDir + fmt.Sprintf(".staging-%d", time.Now().UnixNano())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bootstrap staging directory %q: %w", stagingDir, err)
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	if err := gunzipFile(archivePath, filepath.Join(stagingDir, artifact.libraryName)); err != nil {
		return err
	}

	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove previous gline binding at %q: %w", installDir, err)
	}
	if err := os.Rename(stagingDir, installDir); err != nil {
		return fmt.Errorf("failed to install gline binding to %q: %w", installDir, err)
	}
	return nil
}

func downloadBindingArchive(cfg bootstrapConfig, url string) (archivePath string, checksum string, err error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create download request for %q: %w", url, err)
	}

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to download gline binding from %q: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		snippet = []byte(strings.TrimSpace(string(snippet)))
		if len(snippet) > 0 {
			return "", "", fmt.Errorf("failed to download gline binding from %q: HTTP %d: %s", url, resp.StatusCode, string(snippet))
		}
		return "", "", fmt.Errorf("failed to download gline binding from %q: HTTP %d", url, resp.StatusCode)
	}
	if resp.ContentLength > maxBindingArchiveBytes {
		return "", "", fmt.Errorf("gline binding archive from %q is too large: %d bytes (limit %d)", url, resp.ContentLength, maxBindingArchiveBytes)
	}

	tmpFile, err := os.CreateTemp(cfg.cacheDir, "gline-binding-*.gz")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary archive file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		closeErr := tmpFile.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
		if !success || err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(tmpFile, hasher), io.LimitReader(resp.Body, maxBindingArchiveBytes+1))
	if copyErr != nil {
		return "", "", fmt.Errorf("failed to write gline binding archive to %q: %w", tmpPath, copyErr)
	}
	if written == 0 {
		return "", "", fmt.Errorf("downloaded gline binding archive is empty")
	}
	if written > maxBindingArchiveBytes {
		return "", "", fmt.Errorf("gline binding archive from %q exceeds %d bytes", url, maxBindingArchiveBytes)
	}

	success = true
	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

func gunzipFile(archivePath, destination string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = archiveFile.Close()
	}()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to read gzip archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = gzipReader.Close()
	}()

	outFile, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create extracted library %q: %w", destination, err)
	}

	written, copyErr := io.Copy(outFile, io.LimitReader(gzipReader, maxBindingLibraryBytes+1))
	closeErr := outFile.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to extract %q: %w", archivePath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close extracted library %q: %w", destination, closeErr)
	}
	if written == 0 {
		return fmt.Errorf("archive %q contained an empty library", archivePath)
	}
	if written > maxBindingLibraryBytes {
		return fmt.Errorf("archive %q expands beyond %d bytes", archivePath, maxBindingLibraryBytes)
	}
	return nil
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}

	return absPath, nil
}

func withProcessFileLock(lockPath string, fn func() error) (err error) {
	if fn == nil {
		return fmt.Errorf("lock callback is nil")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	start := time.Now()
	lastLog := start
	for {
		lockErr := lockFile(file)
		if lockErr == nil {
			break
		}
		if !isLockWouldBlock(lockErr) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock %q: %w", lockPath, lockErr)
		}
		if time.Since(start) >= bootstrapLockAcquireTimeout {
			_ = file.Close()
			return fmt.Errorf("timed out acquiring lock %q after %s", lockPath, bootstrapLockAcquireTimeout)
		}
		if time.Since(lastLog) >= bootstrapLockLogInterval {
			log.Printf("waiting for gline bootstrap lock %q (%s elapsed)", lockPath, time.Since(start).Round(time.Second))
			lastLog = time.Now()
		}
		time.Sleep(bootstrapLockRetryInterval)
	}

	defer func() {
		unlockErr := unlockFile(file)
		closeErr := file.Close()
		err = errors.Join(err, unlockErr, closeErr)
	}()

	return fn()
}

func defaultBootstrapCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "pure-gline", "binding")
	}

	fallback := filepath.Join(os.TempDir(), "pure-gline", "binding")
	bootstrapCacheFallbackWarnOnce.Do(func() {
		if err != nil {
			log.Printf("WARNING: failed to resolve user cache directory (%v); using temporary gline binding cache at %q. Set GLINE_CACHE_DIR for a persistent cache.", err, fallback)
			return
		}
		log.Printf("WARNING: user cache directory is empty; using temporary gline binding cache at %q. Set GLINE_CACHE_DIR for a persistent cache.", fallback)
	})
	return fallback
}

func normalizeBindingVersion(version string) (string, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return "", fmt.Errorf("gline binding version is empty")
	}

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("gline binding version must have format x.y.z, got %q", version)
	}
	for _, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			return "", fmt.Errorf("gline binding version must have numeric segments, got %q", version)
		}
	}

	return version, nil
}

func parseBootstrapBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err == nil {
		return parsed, nil
	}

	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q (expected true/false, 1/0, yes/no, on/off)", name, value)
	}
}
