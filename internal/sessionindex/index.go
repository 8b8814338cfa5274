// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionindex

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/agentbroker/internal/persistence"
)

// sweepInterval is how often the background reconciler compares on-disk
// mtimes against the index, per spec §4.5.
const sweepInterval = 5 * time.Minute

// rebuildMinInterval rate-limits client-triggered full rebuilds to once a
// minute, per spec §4.5.
const rebuildMinInterval = time.Minute

// readCacheTTL fronts Listing with a short-lived cache for read bursts.
const readCacheTTL = 30 * time.Second

// Index is SessionIndex (C9): it owns a Document, keeps it current via
// incremental upsert and a periodic sweep, and serves filtered listings
// through a short-lived read cache.
type Index struct {
	path    string
	parsers []Parser

	mu   sync.RWMutex
	doc  Document
	byID map[string]int // sessionId -> index into doc.Entries

	cacheMu   sync.Mutex
	cacheAt   time.Time
	cacheCopy []Entry

	lastRebuildMu sync.Mutex
	lastRebuild   time.Time
}

// New loads path (or starts empty if missing/stale) and prepares an Index
// backed by parsers, one per provider family.
func New(path string, parsers ...Parser) (*Index, error) {
	idx := &Index{path: path, parsers: parsers, byID: make(map[string]int)}

	var doc Document
	if err := persistence.Load(path, &doc); err != nil {
		return nil, err
	}
	if doc.Version == currentVersion {
		idx.doc = doc
		idx.reindex()
	}
	return idx, nil
}

// reindex rebuilds byID from doc.Entries. Caller must hold mu.
func (idx *Index) reindex() {
	idx.byID = make(map[string]int, len(idx.doc.Entries))
	for i, e := range idx.doc.Entries {
		idx.byID[e.SessionID] = i
	}
}

// Upsert inserts or replaces one entry and persists the document, per the
// "incremental update" operation in spec §4.5.
func (idx *Index) Upsert(e Entry) error {
	idx.mu.Lock()
	if i, ok := idx.byID[e.SessionID]; ok {
		idx.doc.Entries[i] = e
	} else {
		idx.byID[e.SessionID] = len(idx.doc.Entries)
		idx.doc.Entries = append(idx.doc.Entries, e)
	}
	idx.doc.Version = currentVersion
	idx.doc.LastUpdated = e.Updated
	docCopy := idx.doc
	idx.mu.Unlock()

	idx.invalidateCache()
	return persistence.Save(idx.path, docCopy)
}

// Remove deletes an entry by session id, if present.
func (idx *Index) Remove(sessionID string) error {
	idx.mu.Lock()
	i, ok := idx.byID[sessionID]
	if !ok {
		idx.mu.Unlock()
		return nil
	}
	idx.doc.Entries = append(idx.doc.Entries[:i], idx.doc.Entries[i+1:]...)
	idx.reindex()
	docCopy := idx.doc
	idx.mu.Unlock()

	idx.invalidateCache()
	return persistence.Save(idx.path, docCopy)
}

// Rebuild re-parses every session file across all parsers in parallel (one
// goroutine group per provider), replacing the document wholesale. It is
// rate-limited to once a minute; a call inside the window is a no-op that
// returns nil rather than an error, since a redundant rebuild request is
// not a caller mistake.
func (idx *Index) Rebuild(ctx context.Context) error {
	idx.lastRebuildMu.Lock()
	if time.Since(idx.lastRebuild) < rebuildMinInterval {
		idx.lastRebuildMu.Unlock()
		return nil
	}
	idx.lastRebuild = time.Now()
	idx.lastRebuildMu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	results := make([][]Entry, len(idx.parsers))

	for i, parser := range idx.parsers {
		i, parser := i, parser
		group.Go(func() error {
			entries, err := parseAll(gctx, parser)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("sessionindex: rebuild: %w", err)
	}

	var all []Entry
	for _, entries := range results {
		all = append(all, entries...)
	}

	idx.mu.Lock()
	idx.doc = Document{Version: currentVersion, LastUpdated: time.Now(), Entries: all}
	idx.reindex()
	docCopy := idx.doc
	idx.mu.Unlock()

	idx.invalidateCache()
	return persistence.Save(idx.path, docCopy)
}

// parseAll walks a parser's root and parses every file it finds, skipping
// (not failing on) any single file's parse error so one corrupt transcript
// doesn't block the whole rebuild.
func parseAll(ctx context.Context, parser Parser) ([]Entry, error) {
	paths, err := parser.Walk()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		entry, ok, err := parser.ParseFile(path)
		if err != nil {
			log.Printf("sessionindex: skipping %s: %v", path, err)
			continue
		}
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Sweep reconciles on-disk mtimes against the index: entries whose backing
// file is gone are removed, and files newer than their indexed Updated time
// are re-parsed and upserted. It is cheaper than Rebuild since it only
// revisits files fsnotify/mtime comparison flags as changed.
func (idx *Index) Sweep(ctx context.Context) error {
	idx.mu.RLock()
	snapshot := append([]Entry(nil), idx.doc.Entries...)
	idx.mu.RUnlock()

	byPath := make(map[string]Entry, len(snapshot))
	for _, e := range snapshot {
		byPath[e.FilePath] = e
	}

	seen := make(map[string]bool)
	for _, parser := range idx.parsers {
		paths, err := parser.Walk()
		if err != nil {
			return err
		}
		for _, path := range paths {
			seen[path] = true
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			existing, known := byPath[path]
			if known && !info.ModTime().After(existing.Updated) {
				continue
			}
			entry, ok, err := parser.ParseFile(path)
			if err != nil {
				log.Printf("sessionindex: sweep skipping %s: %v", path, err)
				continue
			}
			if !ok {
				continue
			}
			if err := idx.Upsert(entry); err != nil {
				return err
			}
		}
	}

	for path, e := range byPath {
		if !seen[path] {
			if err := idx.Remove(e.SessionID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunSweepLoop runs Sweep on sweepInterval until ctx is canceled. Intended
// to be launched as its own goroutine by the entrypoint.
func (idx *Index) RunSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := idx.Sweep(ctx); err != nil {
				log.Printf("sessionindex: sweep failed: %v", err)
			}
		}
	}
}

// WatchRoots subscribes an fsnotify watcher to every parser's root, so a
// file creation/write/removal triggers an immediate Sweep instead of
// waiting out the full sweepInterval. Best-effort: a watcher setup failure
// is logged, not fatal, since the periodic sweep still covers the same
// ground.
func (idx *Index) WatchRoots(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sessionindex: fsnotify: %w", err)
	}

	for _, parser := range idx.parsers {
		if err := watcher.Add(parser.Root()); err != nil {
			log.Printf("sessionindex: watch %s: %v", parser.Root(), err)
		}
	}

	go func() {
		defer watcher.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				debounce.Reset(500 * time.Millisecond)
			case <-debounce.C:
				if err := idx.Sweep(ctx); err != nil {
					log.Printf("sessionindex: watch-triggered sweep failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("sessionindex: watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Listing returns entries matching filter, ordered by Updated desc, using
// a 30-second cache of the full unfiltered entry set.
func (idx *Index) Listing(filter Filter) []Entry {
	all := idx.cachedEntries()

	var matched []Entry
	for _, e := range all {
		if filter.Provider != "" && e.Provider != filter.Provider {
			continue
		}
		if filter.ProjectPath != "" && e.ProjectPath != filter.ProjectPath {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Updated.After(matched[j].Updated) })

	offset := filter.Offset
	if offset < 0 || offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}

func (idx *Index) cachedEntries() []Entry {
	idx.cacheMu.Lock()
	if time.Since(idx.cacheAt) < readCacheTTL && idx.cacheCopy != nil {
		cached := idx.cacheCopy
		idx.cacheMu.Unlock()
		return cached
	}
	idx.cacheMu.Unlock()

	idx.mu.RLock()
	fresh := append([]Entry(nil), idx.doc.Entries...)
	idx.mu.RUnlock()

	idx.cacheMu.Lock()
	idx.cacheCopy = fresh
	idx.cacheAt = time.Now()
	idx.cacheMu.Unlock()

	return fresh
}

func (idx *Index) invalidateCache() {
	idx.cacheMu.Lock()
	idx.cacheCopy = nil
	idx.cacheMu.Unlock()
}
