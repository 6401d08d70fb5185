package datarepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DeleteResult is the outcome of deleting one path.
type DeleteResult struct {
	Path string
	Err  error
}

// DeleteReport lists what a delete operation removed or failed to remove.
// Deletes are best effort: one failure does not stop the rest of a batch.
type DeleteReport []DeleteResult

// Err joins the failures of the report, nil when everything was removed.
func (d DeleteReport) Err() error {
	var errs []error
	for _, r := range d {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Path, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes one entry.
func (r *Repo) Delete(ctx context.Context, typeDir, directory, name string) DeleteReport {
	report := DeleteReport{removeAll(r.DirectoryPath(typeDir, directory, name))}
	r.recordReport(ctx, report, "delete "+typeDir+" "+directory+"/"+name)
	return report
}

// DeleteAll removes every entry of directory, then the directory itself.
func (r *Repo) DeleteAll(ctx context.Context, typeDir, directory string) DeleteReport {
	report := removeChildren(r.CollectionPath(typeDir, directory))
	r.recordReport(ctx, report, "delete "+typeDir+" "+directory)
	return report
}

// DeleteRepo removes every type directory of the repository. The repository
// directory itself and its dot entries, like the journal, are kept.
func (r *Repo) DeleteRepo(ctx context.Context) DeleteReport {
	dirs, err := r.TypeDirs()
	if err != nil {
		return DeleteReport{{Path: r.root, Err: err}}
	}
	var report DeleteReport
	for _, d := range dirs {
		report = append(report, removeAll(filepath.Join(r.root, d)))
	}
	r.recordReport(ctx, report, "delete repository")
	return report
}

func (r *Repo) recordReport(ctx context.Context, report DeleteReport, msg string) {
	for _, res := range report {
		if res.Err == nil {
			r.record(ctx, msg)
			return
		}
	}
}

func removeAll(path string) DeleteResult {
	return DeleteResult{Path: path, Err: os.RemoveAll(path)}
}

// removeChildren removes each child of dir on its own, then dir.
func removeChildren(dir string) DeleteReport {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return DeleteReport{{Path: dir, Err: err}}
	}
	report := make(DeleteReport, 0, len(entries)+1)
	for _, e := range entries {
		report = append(report, removeAll(filepath.Join(dir, e.Name())))
	}
	if report.Err() == nil {
		report = append(report, DeleteResult{Path: dir, Err: os.Remove(dir)})
	}
	return report
}
