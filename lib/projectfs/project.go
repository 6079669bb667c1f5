// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package projectfs is the studio's view of the sandboxed project
// directory the agent edits.
//
// Before a turn the chat server takes a [Snapshot] of content hashes;
// after the agent finishes it takes another and [Project.Diff] turns
// the difference into the "files" event payload: changed and created
// files carry their new content, removed files are marked deleted.
// All paths are slash-separated and relative to the project root, and
// every path an agent supplies is confined to that root.
package projectfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentstudio/studio/lib/wire"
)

// DefaultIgnore are path components never tracked.
var DefaultIgnore = []string{".git", "node_modules", ".DS_Store"}

// DefaultMaxFileBytes bounds the size of a tracked file.
const DefaultMaxFileBytes = 1 << 20

// Options configures a Project.
type Options struct {
	// Ignore lists path.Match patterns. A file is skipped when any
	// component of its relative path, or the whole path, matches.
	// Nil means DefaultIgnore.
	Ignore []string

	// MaxFileBytes skips larger files. Zero means
	// DefaultMaxFileBytes.
	MaxFileBytes int64
}

// Project is a directory tree tracked for changes.
type Project struct {
	root         string
	ignore       []string
	maxFileBytes int64
}

// Open returns a Project rooted at root, which must be an existing
// directory.
func Open(root string, options Options) (*Project, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("projectfs: resolving %s: %w", root, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("projectfs: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("projectfs: %s is not a directory", absolute)
	}
	for _, pattern := range options.Ignore {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("projectfs: ignore pattern %q: %w", pattern, err)
		}
	}
	project := &Project{
		root:         absolute,
		ignore:       options.Ignore,
		maxFileBytes: options.MaxFileBytes,
	}
	if project.ignore == nil {
		project.ignore = DefaultIgnore
	}
	if project.maxFileBytes <= 0 {
		project.maxFileBytes = DefaultMaxFileBytes
	}
	return project, nil
}

// Root returns the absolute project directory.
func (project *Project) Root() string {
	return project.root
}

func (project *Project) ignored(relative string) bool {
	for _, pattern := range project.ignore {
		if matched, _ := path.Match(pattern, relative); matched {
			return true
		}
		for component := range strings.SplitSeq(relative, "/") {
			if matched, _ := path.Match(pattern, component); matched {
				return true
			}
		}
	}
	return false
}

// Resolve maps a project-relative path to an absolute one. Paths that
// are empty, absolute, or escape the root are rejected.
func (project *Project) Resolve(relative string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(relative, "\\", "/"))
	if relative == "" || cleaned == "." || path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("projectfs: path %q is outside the project", relative)
	}
	return filepath.Join(project.root, filepath.FromSlash(cleaned)), nil
}

// ReadFile reads a project file.
func (project *Project) ReadFile(relative string) ([]byte, error) {
	absolute, err := project.Resolve(relative)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(absolute)
}

// WriteFile creates or replaces a project file, creating parent
// directories as needed.
func (project *Project) WriteFile(relative string, content []byte) error {
	absolute, err := project.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return fmt.Errorf("projectfs: creating parent of %s: %w", relative, err)
	}
	if err := os.WriteFile(absolute, content, 0o644); err != nil {
		return fmt.Errorf("projectfs: writing %s: %w", relative, err)
	}
	return nil
}

// RemoveFile deletes a project file. Removing a missing file is not an
// error.
func (project *Project) RemoveFile(relative string) error {
	absolute, err := project.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.Remove(absolute); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("projectfs: removing %s: %w", relative, err)
	}
	return nil
}

// Snapshot maps relative paths to content hashes.
type Snapshot map[string]Hash

// Snapshot hashes every tracked regular file.
func (project *Project) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot := make(Snapshot)
	err := filepath.WalkDir(project.root, func(absolute string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if absolute == project.root {
				return walkErr
			}
			// A file removed mid-walk is simply absent from the
			// snapshot.
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if absolute == project.root {
			return nil
		}
		relative, err := filepath.Rel(project.root, absolute)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if project.ignored(relative) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.Size() > project.maxFileBytes {
			return nil
		}
		hash, err := hashFile(absolute)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("hashing %s: %w", relative, err)
		}
		snapshot[relative] = hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("projectfs: snapshot of %s: %w", project.root, err)
	}
	return snapshot, nil
}

// Diff returns the files payload describing how after differs from
// before. Content is read from disk, so after should be fresh.
func (project *Project) Diff(before, after Snapshot) (wire.Files, error) {
	files := make(wire.Files)
	for relative, hash := range after {
		if previous, ok := before[relative]; ok && previous == hash {
			continue
		}
		content, err := project.ReadFile(relative)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("projectfs: reading %s: %w", relative, err)
		}
		files[relative] = wire.FileChange{Code: string(content)}
	}
	for relative := range before {
		if _, ok := after[relative]; !ok {
			files[relative] = wire.FileChange{Deleted: true}
		}
	}
	return files, nil
}

// Tracker records the project state at the start of a turn.
type Tracker struct {
	project *Project
	before  Snapshot
}

// Track takes the starting snapshot for a turn.
func (project *Project) Track(ctx context.Context) (*Tracker, error) {
	before, err := project.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Tracker{project: project, before: before}, nil
}

// Changes snapshots the project again and returns what changed since
// Track.
func (tracker *Tracker) Changes(ctx context.Context) (wire.Files, error) {
	after, err := tracker.project.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return tracker.project.Diff(tracker.before, after)
}

// Paths returns the sorted paths of a files payload, for logging.
func Paths(files wire.Files) []string {
	paths := make([]string, 0, len(files))
	for relative := range files {
		paths = append(paths, relative)
	}
	sort.Strings(paths)
	return paths
}
