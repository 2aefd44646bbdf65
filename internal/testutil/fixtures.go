// Package testutil holds fixture-backed and in-memory stand-ins for the
// pipeline's external services. The worker uses them in stub mode and package
// tests share them.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/validator"
)

// DefaultDir is the fixture directory used by subscriptions without their own.
const DefaultDir = "_default"

// FixturesDir returns the absolute path of the bundled fixtures.
func FixturesDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "testdata", "fixtures")
}

// FixtureSource serves datasets from <dir>/<subscription>/<dataset>.json,
// falling back to <dir>/_default/<dataset>.json. A dataset with no file, or
// with a <dir>/<subscription>/<dataset>.unsupported marker, is reported as
// unsupported the way a real source rejects a dataset.
// Records without a date are dated at the start of the requested window.
type FixtureSource struct {
	Dir string
}

func (s *FixtureSource) path(sub string, ds domain.Dataset) (string, error) {
	if _, err := os.Stat(filepath.Join(s.Dir, sub, string(ds)+".unsupported")); err == nil {
		return "", fs.ErrNotExist
	}
	for _, dir := range []string{sub, DefaultDir} {
		p := filepath.Join(s.Dir, dir, string(ds)+".json")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fs.ErrNotExist
}

// Fetch satisfies collection.Source.
func (s *FixtureSource) Fetch(ctx context.Context, ds domain.Dataset, sub string, window domain.DateRange) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(sub, ds)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &domain.SourceError{
			Op:   fmt.Sprintf("fixture %s/%s", sub, ds),
			Code: "DataUnavailable",
			Kind: domain.KindSourceRejection,
		}
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("testutil: decode %s: %w", p, err)
	}
	for _, r := range records {
		if _, ok := r[validator.FieldDate]; !ok {
			r[validator.FieldDate] = window.Start.Format(domain.DateLayout)
		}
	}
	return records, nil
}
