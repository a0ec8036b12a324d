// Package reclaim removes per-file index directories whose content no
// longer exists in the collection. Content addressing makes this safe:
// a fingerprint directory with no matching source file can never be
// served again.
package reclaim

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/index"
)

// Options configures a reclaim pass.
type Options struct {
	// SourceDir is the collection directory whose files decide which
	// fingerprints are still live.
	SourceDir string

	// StoreDir is where the index directories live. Defaults to
	// SourceDir.
	StoreDir string

	// DryRun reports orphans without removing anything.
	DryRun bool
}

// Report is the outcome of one reclaim pass. In a dry run BytesFreed
// is the number of bytes a real pass would free.
type Report struct {
	OrphansFound int      `json:"orphans_found"`
	Removed      int      `json:"removed"`
	Kept         int      `json:"kept"`
	BytesFreed   int64    `json:"bytes_freed"`
	Errors       []string `json:"errors,omitempty"`
}

// Reclaim scans StoreDir for fingerprint-named index directories and
// removes the ones with no matching source file in SourceDir. Only
// directories that carry a manifest are candidates; everything else is
// left alone. Removal errors land in the report, they do not abort the
// pass.
func Reclaim(ctx context.Context, opts Options) (*Report, error) {
	if opts.SourceDir == "" {
		return nil, ragonerr.ValidationError("reclaim requires a source directory", nil)
	}
	if opts.StoreDir == "" {
		opts.StoreDir = opts.SourceDir
	}

	live, err := fingerprint.DirectoryManifest(opts.SourceDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(opts.StoreDir)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(opts.StoreDir, err)
	}

	report := &Report{}
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !ent.IsDir() || !fingerprint.IsFingerprint(ent.Name()) {
			continue
		}
		dir := filepath.Join(opts.StoreDir, ent.Name())
		if _, err := os.Stat(filepath.Join(dir, index.ManifestFile)); err != nil {
			continue
		}
		if _, ok := live[ent.Name()]; ok {
			report.Kept++
			continue
		}

		report.OrphansFound++
		size, err := dirSize(dir)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", dir, err))
		}
		if opts.DryRun {
			slog.Info("orphaned index found", "dir", dir, "bytes", size, "dry_run", true)
			report.BytesFreed += size
			continue
		}

		// Take the same lock the builder takes, so a build racing a
		// source rewrite never has its target deleted mid-flight.
		lock := flock.New(dir + ".lock")
		locked, lockErr := lock.TryLock()
		if lockErr != nil || !locked {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: index is busy", dir))
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			lock.Unlock()
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", dir, err))
			continue
		}
		lock.Unlock()
		_ = os.Remove(dir + ".lock")

		report.Removed++
		report.BytesFreed += size
		slog.Info("orphaned index removed", "dir", dir, "bytes", size)
	}
	return report, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
