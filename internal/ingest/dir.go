package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"hompare/internal/apperr"
	"hompare/internal/processor"
)

const (
	// ProcessedDir is where ImportDir moves the files it has handled.
	ProcessedDir = "processed"
	// FailedDir is where ImportDir moves files that could not be imported.
	FailedDir = "failed"
)

// ImportDir imports every .csv file of dir in name order. newProcessor must return
// a started processor; each file gets its own. Handled files are moved to
// dir/processed, so a file is imported once even when some of its rows were rejected.
// A file that fails as a whole is moved to dir/failed and the pass goes on with the
// next one; the returned error joins every file failure.
func (im *Importer) ImportDir(ctx context.Context, dir string, newProcessor func() *processor.BatchProcessor) (int, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read import directory: %w", err)
	}

	var files []string
	for _, e := range dirEntries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return 0, nil
	}
	sort.Strings(files)

	done := filepath.Join(dir, ProcessedDir)
	failed := filepath.Join(dir, FailedDir)
	for _, sub := range []string{done, failed} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create %s directory: %w", filepath.Base(sub), err)
		}
	}

	imported := 0
	var errs []error
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		path := filepath.Join(dir, name)
		report, err := im.importFile(ctx, path, newProcessor())
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to import %s: %w", name, err))
			im.logger.WithError(err).WithField("file", name).Error("Price entry file failed")
			// store outages leave the file in place for the next pass
			if apperr.Retryable(err) || ctx.Err() != nil {
				continue
			}
			if err := os.Rename(path, filepath.Join(failed, name)); err != nil {
				errs = append(errs, fmt.Errorf("failed to move %s: %w", name, err))
			}
			continue
		}
		if err := os.Rename(path, filepath.Join(done, name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to move %s: %w", name, err))
			continue
		}
		imported++

		im.logger.WithFields(logrus.Fields{
			"file":     name,
			"written":  report.Written,
			"rejected": len(report.Rejected),
			"failed":   report.Failed,
		}).Info("Imported price entry file")
	}
	return imported, errors.Join(errs...)
}

func (im *Importer) importFile(ctx context.Context, path string, proc *processor.BatchProcessor) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()
	return im.ImportEntries(ctx, f, proc)
}
