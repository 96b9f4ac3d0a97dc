package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/codelynx/pkg/models"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// LocalStorage writes exported session reports under baseDir/results/<id>/.
// It is only used for explicit exports; the engine never reads from it.
type LocalStorage struct {
	baseDir     string
	logger      *logrus.Logger
	mu          sync.RWMutex
	compression bool
	retention   time.Duration
}

func NewLocalStorage(baseDir string, compression bool, retention time.Duration, logger *logrus.Logger) (*LocalStorage, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "results"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &LocalStorage{
		baseDir:     baseDir,
		logger:      logger,
		compression: compression,
		retention:   retention,
	}, nil
}

func (ls *LocalStorage) BaseDir() string { return ls.baseDir }

// SaveSession exports a snapshot and returns the written path.
func (ls *LocalStorage) SaveSession(session models.ScanSession, format string) (string, error) {
	if session.ID == "" {
		return "", fmt.Errorf("session id is required")
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return "", err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	dir := filepath.Join(ls.baseDir, "results", session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}
	name := fmt.Sprintf("session_%s.%s", time.Now().Format("20060102_150405"), format)
	if ls.compression {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	if err := writeSession(path, &session, format, ls.compression); err != nil {
		return "", err
	}

	ls.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"path":       path,
	}).Info("Session exported")
	return path, nil
}

// ExportTo writes a snapshot to an explicit path. The format follows the
// extension: .yaml/.yml for YAML, JSON otherwise, and a trailing .gz enables
// compression.
func ExportTo(session models.ScanSession, path string) error {
	format, compress := formatFromPath(path)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	return writeSession(path, &session, format, compress)
}

// LoadSession returns the newest export for id.
func (ls *LocalStorage) LoadSession(id string) (*models.ScanSession, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	name, err := ls.latestFile(id)
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(ls.baseDir, "results", id, name))
}

// ListSessions loads the newest export of every stored session, newest first.
func (ls *LocalStorage) ListSessions() ([]models.ScanSession, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(ls.baseDir, "results"))
	if err != nil {
		return nil, fmt.Errorf("read results directory: %w", err)
	}
	out := make([]models.ScanSession, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := ls.latestFile(e.Name())
		if err != nil {
			continue
		}
		s, err := LoadFile(filepath.Join(ls.baseDir, "results", e.Name(), name))
		if err != nil {
			ls.logger.Warnf("Failed to parse result %s: %v", name, err)
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (ls *LocalStorage) DeleteSession(id string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	dir := filepath.Join(ls.baseDir, "results", id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("session %s not found: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Cleanup removes exports older than the retention period and any session
// directories left empty. It returns the number of files removed.
func (ls *LocalStorage) Cleanup() (int, error) {
	if ls.retention <= 0 {
		return 0, nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	cutoff := time.Now().Add(-ls.retention)
	root := filepath.Join(ls.baseDir, "results")
	removed := 0
	err := filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() && info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				ls.logger.Warnf("Failed to remove old file %s: %v", p, err)
			} else {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleanup results: %w", err)
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if rest, err := os.ReadDir(dir); err == nil && len(rest) == 0 {
			_ = os.Remove(dir)
		}
	}
	if removed > 0 {
		ls.logger.WithField("removed", removed).Info("Old exports removed")
	}
	return removed, nil
}

func (ls *LocalStorage) GetStorageStats() (map[string]interface{}, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var size int64
	files := 0
	sessions := 0
	root := filepath.Join(ls.baseDir, "results")
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != root {
				sessions++
			}
			return nil
		}
		size += info.Size()
		files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calculate dir size: %w", err)
	}

	return map[string]interface{}{
		"total_size_bytes":    size,
		"total_size_human":    fmt.Sprintf("%.2f MB", float64(size)/1024.0/1024.0),
		"sessions":            sessions,
		"files":               files,
		"compression_enabled": ls.compression,
		"retention_period":    ls.retention.String(),
	}, nil
}

func (ls *LocalStorage) latestFile(id string) (string, error) {
	dir := filepath.Join(ls.baseDir, "results", id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no exports for session %s: %w", id, err)
	}

	type fileInfo struct {
		name string
		mod  time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() || !isSessionFile(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: de.Name(), mod: info.ModTime()})
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no exports for session %s", id)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name > files[j].name
		}
		return files[i].mod.After(files[j].mod)
	})
	return files[0].name, nil
}

// LoadFile reads a JSON or YAML export, gzip-compressed or not.
func LoadFile(path string) (*models.ScanSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	format, compressed := formatFromPath(path)
	if compressed {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		r = gzr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}

	var s models.ScanSession
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &s, nil
}

func writeSession(path string, s *models.ScanSession, format string, compress bool) error {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		_ = enc.Close()
	default:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".session_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	fail := func(step string, err error) error {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("%s: %w", step, err)
	}

	if compress {
		gzw := gzip.NewWriter(tmpFile)
		if _, err := gzw.Write(buf.Bytes()); err != nil {
			return fail("gzip write", err)
		}
		if err := gzw.Close(); err != nil {
			return fail("close gzip", err)
		}
	} else if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		return fail("write temp file", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), path); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}

func formatFromPath(path string) (format string, compressed bool) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".gz") {
		compressed = true
		name = strings.TrimSuffix(name, ".gz")
	}
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML, compressed
	default:
		return FormatJSON, compressed
	}
}

func isSessionFile(name string) bool {
	n := strings.TrimSuffix(strings.ToLower(name), ".gz")
	return strings.HasPrefix(n, "session_") &&
		(strings.HasSuffix(n, ".json") || strings.HasSuffix(n, ".yaml") || strings.HasSuffix(n, ".yml"))
}
