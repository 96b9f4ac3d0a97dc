package target

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

var ErrInvalidTarget = errors.New("invalid target")

// Resolver maps opaque target identifiers onto directories that tools may scan.
type Resolver struct {
	stagingRoot     string
	directRoots     []string
	allowAbsolute   bool
	workdirFallback bool
	getwd           func() (string, error)
	logger          *logrus.Logger

	mu      sync.RWMutex
	directs map[string]string
}

func NewResolver(cfg models.ResolverConfig, logger *logrus.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.StagingRoot == "" {
		return nil, fmt.Errorf("staging root is required")
	}
	staging, err := filepath.Abs(cfg.StagingRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}

	roots := make([]string, 0, len(cfg.DirectRoots))
	for _, r := range cfg.DirectRoots {
		if !filepath.IsAbs(r) {
			return nil, fmt.Errorf("direct root %q must be absolute", r)
		}
		roots = append(roots, filepath.Clean(r))
	}

	return &Resolver{
		stagingRoot:     staging,
		directRoots:     roots,
		allowAbsolute:   cfg.AllowAbsolute,
		workdirFallback: cfg.AllowWorkdirFallback,
		getwd:           os.Getwd,
		logger:          logger,
		directs:         make(map[string]string),
	}, nil
}

func (r *Resolver) StagingRoot() string {
	return r.stagingRoot
}

// RegisterDirect records that id refers to an existing directory scanned in
// place rather than copied into the staging area.
func (r *Resolver) RegisterDirect(id, path string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty direct scan id", ErrInvalidTarget)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: direct scan path %q is not absolute", ErrInvalidTarget, path)
	}
	clean := filepath.Clean(path)
	if !r.insideDirectRoots(clean) {
		return fmt.Errorf("%w: %s is outside the configured direct scan roots", ErrInvalidTarget, clean)
	}
	if err := checkDir(clean); err != nil {
		return err
	}

	r.mu.Lock()
	r.directs[id] = clean
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"target_id": id, "path": clean}).Debug("Registered direct scan target")
	return nil
}

func (r *Resolver) UnregisterDirect(id string) {
	r.mu.Lock()
	delete(r.directs, id)
	r.mu.Unlock()
}

// Directs returns the registered direct scan ids in sorted order.
func (r *Resolver) Directs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.directs))
	for id := range r.directs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the directory for targetID. The first matching rule wins:
// registered direct scan, absolute path, staging UUID, then a staging-root
// lookup of any other value (and the working directory, if enabled).
func (r *Resolver) Resolve(targetID string) (string, error) {
	id := strings.TrimSpace(targetID)
	if id == "" {
		return "", fmt.Errorf("%w: empty target id", ErrInvalidTarget)
	}

	r.mu.RLock()
	direct, ok := r.directs[id]
	r.mu.RUnlock()
	if ok {
		return existing(direct)
	}

	if filepath.IsAbs(id) {
		if !r.allowAbsolute {
			return "", fmt.Errorf("%w: absolute targets are disabled", ErrInvalidTarget)
		}
		clean := filepath.Clean(id)
		if !r.insideDirectRoots(clean) {
			return "", fmt.Errorf("%w: %s is outside the configured direct scan roots", ErrInvalidTarget, clean)
		}
		return existing(clean)
	}

	if isStagingUUID(id) {
		p := filepath.Join(r.stagingRoot, id)
		return existing(p)
	}

	return r.resolveOther(id)
}

func (r *Resolver) resolveOther(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) || id == "." || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q is not a staging id", ErrInvalidTarget, id)
	}

	staged := filepath.Join(r.stagingRoot, id)
	if utils.IsDir(staged) {
		return staged, nil
	}

	if !r.workdirFallback {
		return "", fmt.Errorf("%w: no staged directory for %q", ErrInvalidTarget, id)
	}

	wd, err := r.getwd()
	if err != nil {
		return "", fmt.Errorf("%w: working directory: %v", ErrInvalidTarget, err)
	}
	local := filepath.Join(wd, id)
	r.logger.WithFields(logrus.Fields{
		"target_id": id,
		"path":      local,
	}).Warn("Resolving target against the working directory; disable resolver.allow_workdir_fallback to forbid this")
	return existing(local)
}

// isStagingUUID accepts only the canonical 36-character form; uuid.Parse
// also takes urn and braced variants that make poor directory names.
func isStagingUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Resolver) insideDirectRoots(path string) bool {
	if len(r.directRoots) == 0 {
		return true
	}
	for _, root := range r.directRoots {
		if utils.IsWithin(root, path) {
			return true
		}
	}
	return false
}

func existing(path string) (string, error) {
	if err := checkDir(path); err != nil {
		return "", err
	}
	return path, nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidTarget, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidTarget, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidTarget, path)
	}
	return nil
}
