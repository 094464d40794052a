// Package runcache caches successful command executions against the content
// of the work tree they ran in. A cache hit means this exact command already
// passed on a byte-identical tree, so running it again cannot tell us
// anything new.
//
// Entries live under a single notes ref. Each (tree, command, workdir)
// triple maps to a deterministic anchor blob; the note attached to that
// anchor holds the entry payload. Reads never resolve the anchor as an
// object, only its name, so entries stay readable after garbage collection
// prunes the anchors.
package runcache

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdutton/vibe-validate-sub006/internal/cachekey"
	"github.com/jdutton/vibe-validate-sub006/internal/notes"
)

// Ref is the notes ref holding cached command executions.
const Ref = "refs/notes/vibe-validate/cache/run"

// Entry is the stored record of one successful command execution.
type Entry struct {
	// Tree is the address of the work tree content the command ran on.
	// Stored in the payload so listings can group entries without
	// resolving anchors.
	Tree string `yaml:"tree"`

	Command string `yaml:"command"`
	Workdir string `yaml:"workdir,omitempty"`

	Timestamp    time.Time `yaml:"timestamp"`
	ExitCode     int       `yaml:"exit_code"`
	DurationSecs float64   `yaml:"duration_secs"`

	// LogPath points at the captured output of the execution, relative to
	// the repository root.
	LogPath string `yaml:"log_path,omitempty"`

	// Extraction carries structured data a collaborator pulled out of the
	// output. Opaque at this layer.
	Extraction map[string]string `yaml:"extraction,omitempty"`
}

// Cache is a read-through cache of command executions.
type Cache struct {
	store *notes.Store
}

// New creates a Cache over the given notes store.
func New(store *notes.Store) *Cache {
	return &Cache{store: store}
}

// anchorContent is the deterministic blob content whose object name keys
// one cache slot.
func anchorContent(treeAddr, token string) string {
	return fmt.Sprintf("vibe-validate cache anchor\ntree %s\nkey %s\n", treeAddr, token)
}

// Get looks up the cached execution of command in workdir on the tree at
// treeAddr. A corrupt or unreadable payload is a miss, never a failure;
// only an unavailable store returns an error.
func (c *Cache) Get(ctx context.Context, treeAddr, command, workdir string) (*Entry, bool, error) {
	token := cachekey.Encode(command, workdir)
	addr, err := c.store.HashBlob(ctx, anchorContent(treeAddr, token))
	if err != nil {
		return nil, false, err
	}
	text, ok, err := c.store.Read(ctx, Ref, addr)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var entry Entry
	if err := yaml.Unmarshal([]byte(text), &entry); err != nil {
		// A payload we cannot parse is worth nothing; treat it as absent
		// rather than wedging every validation until someone clears it.
		return nil, false, nil
	}
	if entry.Command == "" || entry.ExitCode != 0 {
		// Parsed but not a record of a successful execution.
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores entry as the result for (treeAddr, command, workdir),
// replacing any previous result for the same triple. Only successful
// executions may be cached.
func (c *Cache) Put(ctx context.Context, treeAddr, command, workdir string, entry *Entry) error {
	if entry.ExitCode != 0 {
		return fmt.Errorf("refusing to cache failed execution (exit %d)", entry.ExitCode)
	}

	entry.Tree = treeAddr
	entry.Command = command
	entry.Workdir = cachekey.Normalize(workdir)

	payload, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	token := cachekey.Encode(command, workdir)
	// Write the anchor for real so git notes show can resolve it; the
	// entry itself never depends on the anchor object surviving.
	addr, err := c.store.WriteBlob(ctx, anchorContent(treeAddr, token))
	if err != nil {
		return err
	}
	return c.store.Write(ctx, Ref, addr, string(payload))
}

// Remove drops the cached result for one triple, reporting whether an
// entry existed.
func (c *Cache) Remove(ctx context.Context, treeAddr, command, workdir string) (bool, error) {
	token := cachekey.Encode(command, workdir)
	addr, err := c.store.HashBlob(ctx, anchorContent(treeAddr, token))
	if err != nil {
		return false, err
	}
	return c.store.Remove(ctx, Ref, addr)
}

// Clear drops every cached result.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.DeleteRef(ctx, Ref)
}

// ClearTree drops every cached result recorded for treeAddr and returns
// how many entries were removed. With dryRun it only counts what a real
// pass would remove. Entries whose payload cannot be parsed are skipped;
// Clear is the remedy for those.
func (c *Cache) ClearTree(ctx context.Context, treeAddr string, dryRun bool) (int, error) {
	var addrs []string
	err := c.store.ForEach(ctx, Ref, func(addr, text string) error {
		var entry Entry
		if err := yaml.Unmarshal([]byte(text), &entry); err != nil {
			return nil
		}
		if entry.Tree == treeAddr {
			addrs = append(addrs, addr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if dryRun {
		return len(addrs), nil
	}

	removed := 0
	for _, addr := range addrs {
		ok, err := c.store.Remove(ctx, Ref, addr)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Stats summarizes the cache ref.
type Stats struct {
	// Entries is the number of readable cache entries.
	Entries int

	// Corrupt counts notes that did not parse as entries.
	Corrupt int

	// Trees is the number of distinct tree addresses with entries.
	Trees int

	// Oldest and Newest bound the entry timestamps; zero when empty.
	Oldest time.Time
	Newest time.Time
}

// CollectStats walks the cache ref and summarizes it.
func (c *Cache) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	trees := make(map[string]bool)
	err := c.store.ForEach(ctx, Ref, func(addr, text string) error {
		var entry Entry
		if err := yaml.Unmarshal([]byte(text), &entry); err != nil {
			stats.Corrupt++
			return nil
		}
		stats.Entries++
		trees[entry.Tree] = true
		if stats.Oldest.IsZero() || entry.Timestamp.Before(stats.Oldest) {
			stats.Oldest = entry.Timestamp
		}
		if entry.Timestamp.After(stats.Newest) {
			stats.Newest = entry.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Trees = len(trees)
	return stats, nil
}
