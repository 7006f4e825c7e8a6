// Package backup snapshots the SQLite database into zip archives and restores
// them with rollback on failure.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/shirou/gopsutil/v3/disk"

	auditsvc "github.com/R3E-Network/storefront/internal/app/services/audit"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/platform/database"
	"github.com/R3E-Network/storefront/pkg/logger"
)

const (
	// DBEntry is the archive entry holding the database file.
	DBEntry = "storefront.db"
	// ManifestEntry is the archive entry describing DBEntry.
	ManifestEntry = "manifest.json"
	// MaxRestoreSize bounds uploaded archives and extracted databases.
	MaxRestoreSize = 2 << 30

	nameLayout = "20060102-150405"
)

var (
	sqliteHeader = []byte("SQLite format 3\x00")
	validName    = regexp.MustCompile(`^backup-[0-9]{8}-[0-9]{6}(-[0-9]+)?\.zip$`)
)

// Manifest describes an archived database.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Driver    string    `json:"driver"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}

// Archive is a backup file on disk.
type Archive struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Database is the subset of database.DB the service drives.
type Database interface {
	IsSQLite() bool
	Driver() string
	Path() (string, error)
	Snapshot(ctx context.Context, dest string) error
	IntegrityCheck(ctx context.Context) error
	Swap(ctx context.Context, fn func() error) error
}

var _ Database = (*database.DB)(nil)

// Metrics receives backup run observations.
type Metrics interface {
	BackupFinished(operation string, size int64, duration time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) BackupFinished(string, int64, time.Duration, error) {}

// Config wires a Service.
type Config struct {
	Dir     string
	Keep    int
	Version string
	// Migrate brings a freshly restored database up to the current schema.
	Migrate func(ctx context.Context) error
	Audit   auditsvc.Recorder
	Metrics Metrics
}

// Service creates, lists and restores backups.
type Service struct {
	db      Database
	dir     string
	keep    int
	version string
	migrate func(ctx context.Context) error
	audit   auditsvc.Recorder
	metrics Metrics
	log     *logger.Logger

	// mu serialises backup, restore and prune runs.
	mu        sync.Mutex
	now       func() time.Time
	freeBytes func(ctx context.Context, path string) (uint64, error)
}

// New constructs a backup service.
func New(db Database, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("backup")
	}
	s := &Service{
		db:        db,
		dir:       cfg.Dir,
		keep:      cfg.Keep,
		version:   cfg.Version,
		migrate:   cfg.Migrate,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		log:       log,
		now:       time.Now,
		freeBytes: diskFree,
	}
	if s.dir == "" {
		s.dir = "backups"
	}
	if s.audit == nil {
		s.audit = auditsvc.Nop{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.migrate == nil {
		s.migrate = func(context.Context) error { return nil }
	}
	return s
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func (s *Service) dbPath() (string, error) {
	if !s.db.IsSQLite() {
		return "", apperrors.NotSupported(fmt.Sprintf("backups require a sqlite database (driver %q)", s.db.Driver()))
	}
	path, err := s.db.Path()
	if err != nil {
		return "", apperrors.NotSupported(err.Error())
	}
	return path, nil
}

// Create snapshots the database into a new archive.
func (s *Service) Create(ctx context.Context) (archive Archive, err error) {
	started := s.now()
	defer func() { s.metrics.BackupFinished("create", archive.Size, time.Since(started), err) }()

	dbPath, err := s.dbPath()
	if err != nil {
		return Archive{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return Archive{}, fmt.Errorf("create backup dir: %w", err)
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		return Archive{}, fmt.Errorf("stat database: %w", err)
	}
	free, err := s.freeBytes(ctx, s.dir)
	if err != nil {
		return Archive{}, fmt.Errorf("check free space: %w", err)
	}
	if need := uint64(info.Size()) * 2; free < need {
		return Archive{}, apperrors.Conflict("not enough free disk space for a backup").
			WithDetails("free_bytes", free).
			WithDetails("required_bytes", need)
	}

	snapshot := filepath.Join(s.dir, fmt.Sprintf(".snapshot-%d.db", started.UnixNano()))
	defer os.Remove(snapshot)
	if err := s.db.Snapshot(ctx, snapshot); err != nil {
		return Archive{}, err
	}

	name, f, err := s.createArchiveFile(started)
	if err != nil {
		return Archive{}, err
	}
	path := filepath.Join(s.dir, name)
	if err := s.writeArchive(f, snapshot, started); err != nil {
		f.Close()
		os.Remove(path)
		return Archive{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Archive{}, fmt.Errorf("close archive: %w", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		return Archive{}, err
	}
	archive = Archive{Name: name, Size: st.Size(), CreatedAt: started.UTC()}
	s.log.WithField("archive", name).WithField("size", archive.Size).Info("backup created")
	s.audit.Record(ctx, "backup.create", "backup", name, map[string]interface{}{"size": archive.Size})

	if _, err := s.pruneLocked(ctx); err != nil {
		s.log.WithError(err).Warn("prune after backup failed")
	}
	return archive, nil
}

// createArchiveFile picks a free archive name for t and creates the file.
func (s *Service) createArchiveFile(t time.Time) (string, *os.File, error) {
	base := "backup-" + t.UTC().Format(nameLayout)
	for i := 0; i < 100; i++ {
		name := base + ".zip"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.zip", base, i)
		}
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("create archive: %w", err)
		}
	}
	return "", nil, apperrors.Conflict("too many backups in the same second")
}

func (s *Service) writeArchive(w io.Writer, snapshot string, created time.Time) error {
	src, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()

	zw := zip.NewWriter(w)
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: DBEntry, Method: zip.Deflate, Modified: created})
	if err != nil {
		return err
	}
	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(entry, hash), src)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	manifest, err := json.MarshalIndent(Manifest{
		CreatedAt: created.UTC(),
		Version:   s.version,
		Driver:    s.db.Driver(),
		Size:      size,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
	}, "", "  ")
	if err != nil {
		return err
	}
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestEntry, Method: zip.Deflate, Modified: created})
	if err != nil {
		return err
	}
	if _, err := mw.Write(manifest); err != nil {
		return err
	}
	return zw.Close()
}

// List returns archives newest first.
func (s *Service) List(ctx context.Context) ([]Archive, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Archive{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Archive, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !validName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Archive{Name: e.Name(), Size: info.Size(), CreatedAt: archiveTime(e.Name(), info.ModTime())})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func archiveTime(name string, fallback time.Time) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "backup-"), ".zip")
	if len(stamp) >= len(nameLayout) {
		if t, err := time.Parse(nameLayout, stamp[:len(nameLayout)]); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// ValidateName rejects names that are not archives produced by Create.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || !validName.MatchString(name) {
		return apperrors.Validationf("invalid backup name %q", name)
	}
	return nil
}

// Open returns the archive for download. Callers close the file.
func (s *Service) Open(ctx context.Context, name string) (*os.File, Archive, error) {
	if err := ValidateName(name); err != nil {
		return nil, Archive{}, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Archive{}, apperrors.NotFound("backup", name)
	}
	if err != nil {
		return nil, Archive{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Archive{}, err
	}
	return f, Archive{Name: name, Size: info.Size(), CreatedAt: archiveTime(name, info.ModTime())}, nil
}

// Delete removes an archive.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperrors.NotFound("backup", name)
		}
		return err
	}
	s.audit.Record(ctx, "backup.delete", "backup", name, nil)
	return nil
}

// Prune deletes all but the newest Keep archives. Keep 0 retains everything.
func (s *Service) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(ctx)
}

func (s *Service) pruneLocked(ctx context.Context) (int, error) {
	if s.keep <= 0 {
		return 0, nil
	}
	archives, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, a := range archives[min(s.keep, len(archives)):] {
		if err := os.Remove(filepath.Join(s.dir, a.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("old backups pruned")
	}
	return removed, errors.Join(errs...)
}

// Restore replaces the live database with the one in the archive read from r.
// The current file is kept as <db>.bak until the restored database has been
// migrated and passed an integrity check; any failure moves it back.
func (s *Service) Restore(ctx context.Context, r io.Reader) (manifest Manifest, err error) {
	started := s.now()
	defer func() { s.metrics.BackupFinished("restore", manifest.Size, time.Since(started), err) }()

	dbPath, err := s.dbPath()
	if err != nil {
		return Manifest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bak := dbPath + ".bak"
	if _, err := os.Stat(bak); err == nil {
		return Manifest{}, apperrors.Conflict("a previous restore left " + filepath.Base(bak) + " behind; move it away first")
	}

	dbDir := filepath.Dir(dbPath)
	upload, err := os.CreateTemp(dbDir, ".restore-upload-*.zip")
	if err != nil {
		return Manifest{}, fmt.Errorf("stage upload: %w", err)
	}
	defer os.Remove(upload.Name())
	defer upload.Close()

	n, err := io.Copy(upload, io.LimitReader(r, MaxRestoreSize+1))
	if err != nil {
		return Manifest{}, fmt.Errorf("read upload: %w", err)
	}
	if n > MaxRestoreSize {
		return Manifest{}, apperrors.Validation("backup archive is too large")
	}

	staged := filepath.Join(dbDir, fmt.Sprintf(".restore-%d.db", started.UnixNano()))
	defer os.Remove(staged)
	manifest, err = extract(upload, n, staged)
	if err != nil {
		return Manifest{}, err
	}

	if err := s.db.Swap(ctx, func() error { return moveIn(dbPath, bak, staged) }); err != nil {
		s.rollback(ctx, dbPath, bak)
		return Manifest{}, fmt.Errorf("swap database: %w", err)
	}
	if err := s.verify(ctx); err != nil {
		s.rollback(ctx, dbPath, bak)
		return Manifest{}, apperrors.Validation("restored database failed verification; the previous database was kept").
			WithDetails("reason", err.Error())
	}
	if err := os.Remove(bak); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).Warn("remove database backup copy failed")
	}

	s.log.WithField("created_at", manifest.CreatedAt).WithField("size", manifest.Size).Warn("database restored from backup")
	s.audit.Record(ctx, "backup.restore", "backup", "", map[string]interface{}{
		"archive_created_at": manifest.CreatedAt,
		"size":               manifest.Size,
		"sha256":             manifest.SHA256,
	})
	return manifest, nil
}

func (s *Service) verify(ctx context.Context) error {
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return s.db.IntegrityCheck(ctx)
}

// rollback puts <db>.bak back in place when it exists.
func (s *Service) rollback(ctx context.Context, dbPath, bak string) {
	if _, err := os.Stat(bak); err != nil {
		return
	}
	err := s.db.Swap(ctx, func() error {
		removeSidecars(dbPath)
		return os.Rename(bak, dbPath)
	})
	if err != nil {
		s.log.WithError(err).Error("database rollback failed; previous database remains at " + bak)
		return
	}
	s.log.Warn("database restore rolled back")
}

// moveIn runs with the database closed.
func moveIn(dbPath, bak, staged string) error {
	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Rename(dbPath, bak); err != nil {
			return fmt.Errorf("keep current database: %w", err)
		}
	}
	removeSidecars(dbPath)
	if err := os.Rename(staged, dbPath); err != nil {
		return fmt.Errorf("move restored database in place: %w", err)
	}
	return nil
}

func removeSidecars(dbPath string) {
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(dbPath + suffix)
	}
}

// extract validates the archive in ra and writes its database entry to dest.
func extract(ra io.ReaderAt, size int64, dest string) (Manifest, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return Manifest{}, apperrors.Validation("upload is not a zip archive")
	}

	var dbFile, manifestFile *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case DBEntry:
			dbFile = f
		case ManifestEntry:
			manifestFile = f
		}
	}
	if dbFile == nil {
		return Manifest{}, apperrors.Validationf("archive does not contain %s", DBEntry)
	}

	var manifest Manifest
	if manifestFile != nil {
		rc, err := manifestFile.Open()
		if err != nil {
			return Manifest{}, apperrors.Validation("manifest is unreadable")
		}
		err = json.NewDecoder(io.LimitReader(rc, 64<<10)).Decode(&manifest)
		rc.Close()
		if err != nil {
			return Manifest{}, apperrors.Validation("manifest is not valid JSON")
		}
	}

	rc, err := dbFile.Open()
	if err != nil {
		return Manifest{}, apperrors.Validation("database entry is unreadable")
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return Manifest{}, err
	}
	hash := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(out, hash), io.LimitReader(rc, MaxRestoreSize+1))
	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return Manifest{}, apperrors.Validation("database entry is corrupt").WithDetails("reason", copyErr.Error())
	}
	if written > MaxRestoreSize {
		return Manifest{}, apperrors.Validation("database entry is too large")
	}
	if err := checkHeader(dest); err != nil {
		return Manifest{}, err
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if manifest.SHA256 != "" && !strings.EqualFold(manifest.SHA256, sum) {
		return Manifest{}, apperrors.Validation("database checksum does not match the manifest")
	}
	if manifest.Size != 0 && manifest.Size != written {
		return Manifest{}, apperrors.Validation("database size does not match the manifest")
	}
	manifest.SHA256 = sum
	manifest.Size = written
	return manifest, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, sqliteHeader) {
		return apperrors.Validation("archive does not contain a sqlite database")
	}
	return nil
}
