package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound       = errors.New("backup not found")
	ErrInvalidName    = errors.New("invalid backup name")
	ErrInvalidArchive = errors.New("invalid backup archive")
	ErrIncompatible   = errors.New("backup schema does not match the database")
	ErrBusy           = errors.New("another backup operation is running")
)

const (
	archivePrefix = "clinic-"
	nameLayout    = "20060102T150405Z"
)

var nameRe = regexp.MustCompile(`^clinic-\d{8}T\d{6}Z\.db$`)

func validName(name string) bool { return nameRe.MatchString(name) }

func archiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format(nameLayout) + ".db"
}

// Info describes one archive, wherever it is stored.
type Info struct {
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Size      int64          `json:"size,omitempty"`
	Local     bool           `json:"local"`
	Remote    bool           `json:"remote"`
	Counts    map[string]int `json:"counts,omitempty"`
}

type Service struct {
	store  Store
	dir    string
	mirror Mirror
	logger zerolog.Logger
	now    func() time.Time

	// Serializes create and restore within this process.
	mu sync.Mutex
}

// NewService writes archives to dir. mirror may be nil.
func NewService(store Store, dir string, mirror Mirror, logger zerolog.Logger) *Service {
	return &Service{store: store, dir: dir, mirror: mirror, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context) (*Info, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	version, err := s.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Dump(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	created := s.now().UTC().Truncate(time.Second)
	name := archiveName(created)
	final := filepath.Join(s.dir, name)
	if _, err := os.Stat(final); err == nil {
		return nil, ErrBusy
	}
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	if err := WriteArchive(tmp, snap, Manifest{SchemaVersion: version, CreatedAt: created}); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	info := &Info{Name: name, CreatedAt: created, Local: true, Counts: snap.Counts()}
	if st, err := os.Stat(final); err == nil {
		info.Size = st.Size()
	}
	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, name, final); err != nil {
			s.logger.Error().Err(err).Str("backup", name).Msg("mirror upload failed")
		} else {
			info.Remote = true
		}
	}
	s.logger.Info().Str("backup", name).Int64("size", info.Size).Bool("remote", info.Remote).Msg("backup created")
	return info, nil
}

// List returns local and mirrored archives, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	byName := map[string]*Info{}
	get := func(name string) *Info {
		if in, ok := byName[name]; ok {
			return in
		}
		created, _ := time.Parse(nameLayout, name[len(archivePrefix):len(name)-len(".db")])
		in := &Info{Name: name, CreatedAt: created}
		byName[name] = in
		return in
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		in := get(e.Name())
		in.Local = true
		if fi, err := e.Info(); err == nil {
			in.Size = fi.Size()
		}
	}

	if s.mirror != nil {
		names, err := s.mirror.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if validName(n) {
				get(n).Remote = true
			}
		}
	}

	out := make([]Info, 0, len(byName))
	for _, in := range byName {
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Restore replaces the database contents with the named archive, fetching
// it from the mirror when there is no local copy.
func (s *Service) Restore(ctx context.Context, name string) (*Manifest, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if s.mirror == nil {
			return nil, ErrNotFound
		}
		if err := s.fetch(ctx, name, path); err != nil {
			return nil, err
		}
	}

	snap, m, err := ReadArchive(path)
	if err != nil {
		return nil, err
	}
	version, err := s.store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	if m.SchemaVersion != version {
		return nil, fmt.Errorf("%w: archive %d, database %d", ErrIncompatible, m.SchemaVersion, version)
	}
	if err := s.store.Restore(ctx, snap); err != nil {
		return nil, err
	}
	s.logger.Warn().Str("backup", name).Interface("counts", m.Counts.Data()).Msg("database restored from backup")
	return m, nil
}

func (s *Service) fetch(ctx context.Context, name, path string) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := s.mirror.Download(ctx, name, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
