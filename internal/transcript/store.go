package transcript

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"quorum/internal/jsonx"
	"quorum/internal/logging"
)

const decodedCacheSize = 64

// Transcript wraps a snapshot with the chat-history metadata shown when
// listing stored runs.
type Transcript struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
	Snapshot  *Snapshot `json:"snapshot"`
}

// Store persists one transcript per JSON file under a base directory.
type Store struct {
	baseDir string
	logger  logging.Logger
	cache   *lru.Cache[string, *Transcript]
}

// NewStore opens (creating if needed) a transcript directory. A leading ~/
// is expanded against the user's home directory.
func NewStore(baseDir string) (*Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	cache, err := lru.New[string, *Transcript](decodedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("TranscriptStore"),
		cache:   cache,
	}, nil
}

// NewID generates a transcript identifier ordered by creation time.
func NewID() string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), hex.EncodeToString(suffix))
}

// Save writes a transcript. New transcripts are created exclusively so an ID
// collision surfaces instead of clobbering history.
func (s *Store) Save(t *Transcript) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	data, err := jsonx.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", t.ID, err)
	}

	path := s.path(t.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Re-save of a known transcript overwrites in place.
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("rewrite transcript %s: %w", t.ID, err)
			}
			s.cache.Add(t.ID, t)
			return nil
		}
		return fmt.Errorf("create transcript file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write transcript %s: %w", t.ID, err)
	}
	s.cache.Add(t.ID, t)
	return nil
}

// Get loads one transcript, serving repeat loads from the decoded cache.
func (s *Store) Get(id string) (*Transcript, error) {
	if t, ok := s.cache.Get(id); ok {
		return t, nil
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("transcript not found: %s", id)
	}
	var raw struct {
		ID        string           `json:"id"`
		Question  string           `json:"question"`
		CreatedAt time.Time        `json:"created_at"`
		Snapshot  jsonx.RawMessage `json:"snapshot"`
	}
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		s.logger.Error("failed to decode transcript %s: %v. Preview: %s", id, err, preview(data))
		return nil, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	snap, err := DecodeSnapshot(raw.Snapshot)
	if err != nil {
		s.logger.Error("failed to decode transcript %s: %v. Preview: %s", id, err, preview(data))
		return nil, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	t := &Transcript{ID: raw.ID, Question: raw.Question, CreatedAt: raw.CreatedAt, Snapshot: snap}
	s.cache.Add(id, t)
	return t, nil
}

// List returns stored transcript IDs, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// LoadAll fetches every stored transcript, reading files concurrently.
// Transcripts that fail to decode are logged and skipped so one corrupt file
// does not hide the rest of the history.
func (s *Store) LoadAll() ([]*Transcript, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	results := make([]*Transcript, len(ids))
	var group errgroup.Group
	group.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			t, err := s.Get(id)
			if err != nil {
				s.logger.Warn("skipping transcript %s: %v", id, err)
				return nil
			}
			results[i] = t
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	loaded := results[:0]
	for _, t := range results {
		if t != nil {
			loaded = append(loaded, t)
		}
	}
	return loaded, nil
}

// Delete removes a transcript. A missing file is not an error.
func (s *Store) Delete(id string) error {
	s.cache.Remove(id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", id))
}

func preview(data []byte) string {
	const maxPreview = 512
	p := strings.TrimSpace(string(data))
	p = strings.ReplaceAll(p, "\n", " ")
	p = strings.ReplaceAll(p, "\t", " ")
	if len(p) > maxPreview {
		p = p[:maxPreview] + "... (truncated)"
	}
	return p
}
