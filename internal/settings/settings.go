// Package settings stores per-user preferences that change how turns behave.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Settings are the user-controlled switches read by the turn controller.
type Settings struct {
	SpeakResponse      bool `json:"speak_response"`
	WakeRequiresHeadUp bool `json:"wake_requires_head_up"`
}

// Store reads, writes and publishes settings changes.
type Store interface {
	Get(userID string) Settings
	Put(userID string, s Settings) error
	// Subscribe delivers the effective settings each time they change. The
	// returned func stops delivery and is safe to call more than once.
	Subscribe(userID string) (<-chan Settings, func())
}

type fileFormat struct {
	Defaults Settings            `json:"defaults"`
	Users    map[string]Settings `json:"users"`
}

type subscriber struct {
	ch   chan Settings
	once sync.Once
}

// FileStore keeps settings in memory and, when a path is set, mirrors them to
// a JSON file.
type FileStore struct {
	path   string
	logger zerolog.Logger

	// writeMu orders memory updates with their file writes, and keeps Reload
	// from reading the file between the two.
	writeMu sync.Mutex

	mu       sync.RWMutex
	defaults Settings
	users    map[string]Settings
	subs     map[string]map[*subscriber]struct{}
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore(defaults Settings) *FileStore {
	return &FileStore{
		logger:   zerolog.Nop(),
		defaults: defaults,
		users:    make(map[string]Settings),
		subs:     make(map[string]map[*subscriber]struct{}),
	}
}

// NewFileStore loads path if it exists. A missing file starts from defaults.
func NewFileStore(path string, defaults Settings, logger zerolog.Logger) (*FileStore, error) {
	s := NewMemoryStore(defaults)
	s.path = filepath.Clean(strings.TrimSpace(path))
	s.logger = logger
	f, err := readFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	s.defaults = f.Defaults
	if f.Users != nil {
		s.users = f.Users
	}
	return s, nil
}

func readFile(path string) (fileFormat, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileFormat{}, err
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return fileFormat{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return f, nil
}

func (s *FileStore) Get(userID string) Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveLocked(userID)
}

func (s *FileStore) effectiveLocked(userID string) Settings {
	if v, ok := s.users[userID]; ok {
		return v
	}
	return s.defaults
}

func (s *FileStore) Put(userID string, v Settings) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	before := s.effectiveLocked(userID)
	s.users[userID] = v
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		return err
	}
	if before != v {
		s.publish(userID, v)
	}
	return nil
}

func (s *FileStore) snapshotLocked() fileFormat {
	users := make(map[string]Settings, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	return fileFormat{Defaults: s.defaults, Users: users}
}

// persist writes to a temp file in the same directory and renames it into
// place so readers never see a partial file.
func (s *FileStore) persist(f fileFormat) error {
	if s.path == "" || s.path == "." {
		return nil
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

func (s *FileStore) Subscribe(userID string) (<-chan Settings, func()) {
	sub := &subscriber{ch: make(chan Settings, 1)}
	s.mu.Lock()
	set, ok := s.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		s.subs[userID] = set
	}
	set[sub] = struct{}{}
	s.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			s.mu.Lock()
			if set, ok := s.subs[userID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(s.subs, userID)
				}
			}
			close(sub.ch)
			s.mu.Unlock()
		})
	}
}

// publish hands v to every subscriber of userID, replacing any value the
// subscriber has not consumed yet.
func (s *FileStore) publish(userID string, v Settings) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[userID] {
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- v:
		default:
		}
	}
}

// Reload re-reads the file and notifies subscribers whose effective settings
// changed.
func (s *FileStore) Reload() error {
	if s.path == "" || s.path == "." {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	f, err := readFile(s.path)
	if err != nil {
		return err
	}
	if f.Users == nil {
		f.Users = make(map[string]Settings)
	}

	s.mu.Lock()
	changed := make(map[string]Settings)
	for userID := range s.subs {
		before := s.effectiveLocked(userID)
		after := f.Defaults
		if v, ok := f.Users[userID]; ok {
			after = v
		}
		if before != after {
			changed[userID] = after
		}
	}
	s.defaults = f.Defaults
	s.users = f.Users
	s.mu.Unlock()

	for userID, v := range changed {
		s.publish(userID, v)
	}
	return nil
}

// Watch reloads the file on external writes until ctx ends. It falls back to
// polling the modification time when fsnotify is unavailable.
func (s *FileStore) Watch(ctx context.Context) error {
	if s.path == "" || s.path == "." {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn().Err(err).Msg("fsnotify not available, falling back to polling")
		return s.poll(ctx, time.Second)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close settings watcher")
		}
	}()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		s.logger.Warn().Err(err).Msg("watch settings dir failed, falling back to polling")
		return s.poll(ctx, time.Second)
	}
	s.logger.Info().Str("path", s.path).Msg("settings watcher started")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return s.poll(ctx, time.Second)
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(50 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return s.poll(ctx, time.Second)
			}
			s.logger.Warn().Err(err).Msg("settings watcher error")
		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("reload settings")
			}
		}
	}
}

func (s *FileStore) poll(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last time.Time
	if info, err := os.Stat(s.path); err == nil {
		last = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil || !info.ModTime().After(last) {
				continue
			}
			last = info.ModTime()
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("reload settings")
			}
		}
	}
}
