// Package loader reads per-service config.json files out of a checked-out
// repository tree and builds a cache snapshot from the valid ones.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

// Skip reasons reported for services that are not loaded
const (
	ReasonMissing       = "missing"
	ReasonTooLarge      = domain.ReasonTooLarge
	ReasonMalformed     = domain.ReasonMalformed
	ReasonInvalidSchema = domain.ReasonInvalidSchema
	ReasonReadError     = domain.ReasonReadError
)

// maxReadSize caps how much of a single file is read before giving up.
// The serialized size limit is enforced separately after parsing.
const maxReadSize = 16 << 20

// Skip describes a service directory that did not make it into the snapshot
type Skip struct {
	Service string
	Reason  string
	Err     error
}

// Report summarizes one load pass
type Report struct {
	Loaded  []string
	Skipped []Skip
}

// Failed returns the skips caused by a bad config file, ignoring directories
// that simply have no config.json.
func (r Report) Failed() []Skip {
	var out []Skip
	for _, s := range r.Skipped {
		if s.Reason != ReasonMissing {
			out = append(out, s)
		}
	}
	return out
}

// Loader builds snapshots from a working directory
type Loader struct {
	fs      billy.Filesystem
	maxSize int
	logger  *slog.Logger
}

// Option configures a Loader
type Option func(*Loader)

// WithMaxSize overrides the serialized size limit per service config
func WithMaxSize(n int) Option {
	return func(l *Loader) {
		l.maxSize = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New creates a loader over fs, rooted at the working directory
func New(fs billy.Filesystem, opts ...Option) *Loader {
	l := &Loader{
		fs:      fs,
		maxSize: domain.MaxConfigSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load scans every immediate subdirectory for a config.json and returns the
// services that parsed, fit the size limit and passed schema validation.
// Bad files are reported, never returned as errors. An error is returned only
// when the root cannot be listed or ctx is done.
func (l *Loader) Load(ctx context.Context) (domain.Snapshot, Report, error) {
	var report Report

	entries, err := l.fs.ReadDir(".")
	if err != nil {
		return nil, report, domain.NewFetchError("failed to list working directory", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	snapshot := make(domain.Snapshot)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		cfg, err := l.loadService(name)
		if err != nil {
			reason := reasonOf(err)
			report.Skipped = append(report.Skipped, Skip{Service: name, Reason: reason, Err: err})

			if reason == ReasonMissing {
				l.logger.Debug("no config file for service", "service", name)
			} else {
				l.logger.Warn("skipping service config", "service", name, "reason", reason, "error", err)
			}
			continue
		}

		snapshot[name] = cfg
		report.Loaded = append(report.Loaded, name)
	}

	return snapshot, report, nil
}

var errMissing = errors.New("config file not found")

func (l *Loader) loadService(service string) (domain.ServiceConfig, error) {
	f, err := l.fs.Open(path.Join(service, domain.ConfigFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errMissing
		}
		return nil, domain.NewLoadError(service, ReasonReadError, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxReadSize+1))
	if err != nil {
		return nil, domain.NewLoadError(service, ReasonReadError, err)
	}
	if len(raw) > maxReadSize {
		return nil, domain.NewLoadError(service, ReasonTooLarge, nil)
	}

	doc, err := decode(raw)
	if err != nil {
		return nil, domain.NewLoadError(service, ReasonMalformed, err)
	}

	size, err := encodedSize(doc)
	if err != nil {
		return nil, domain.NewLoadError(service, ReasonMalformed, err)
	}
	if size > l.maxSize {
		return nil, domain.NewLoadError(service, ReasonTooLarge, nil)
	}

	cfg, err := domain.ValidateServiceConfig(doc)
	if err != nil {
		return nil, domain.NewLoadError(service, ReasonInvalidSchema, err)
	}

	return cfg, nil
}

// decode parses exactly one JSON document. Numbers keep their literal form.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON document")
	}

	return doc, nil
}

func reasonOf(err error) string {
	if errors.Is(err, errMissing) {
		return ReasonMissing
	}

	var skip interface{ Context() map[string]interface{} }
	if errors.As(err, &skip) {
		if reason, ok := skip.Context()["reason"].(string); ok {
			return reason
		}
	}
	return ReasonReadError
}
