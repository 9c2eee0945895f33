// Package ops implements operational tooling for a chorekeep deployment:
// consistent backups of the data directory, restores, and integrity checks
// of the task database.
package ops

import (
	"archive/tar"
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the task database inside the data directory.
const DBFileName = "chorekeep.db"

// Backup archives dataDir into a tar.gz at archivePath. The SQLite database
// is snapshotted with VACUUM INTO first, so the archive holds a consistent
// single-file copy even while the server is running in WAL mode; the -wal
// and -shm sidecars are never archived.
func Backup(dataDir, archivePath string) error {
	dataDir = filepath.Clean(strings.TrimSpace(dataDir))
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	if dataDir == "" || archivePath == "" {
		return fmt.Errorf("dataDir and archivePath are required")
	}
	info, err := os.Stat(dataDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir is not a directory: %s", dataDir)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	snapshot := ""
	if _, err := os.Stat(dbPath); err == nil {
		snapshot, err = snapshotDB(dbPath)
		if err != nil {
			return fmt.Errorf("snapshot database: %w", err)
		}
		defer os.Remove(snapshot)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	if snapshot != "" {
		if err := addFile(tw, snapshot, DBFileName); err != nil {
			return err
		}
	}

	return filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dataDir {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// The live db and its WAL sidecars are replaced by the snapshot.
		if rel == DBFileName || rel == DBFileName+"-wal" || rel == DBFileName+"-shm" {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// snapshotDB writes a consistent copy of the database to a temp file and
// returns its path. VACUUM INTO reads through the WAL, so concurrent
// writers are not blocked.
func snapshotDB(dbPath string) (string, error) {
	tmp, err := os.CreateTemp("", "chorekeep-snapshot-*.db")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(tmpPath)

	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return "", err
	}
	defer db.Close()

	if _, err := db.Exec("VACUUM INTO ?", tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Mode = 0o644
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

// Restore unpacks a backup archive into targetDir.
func Restore(archivePath, targetDir string) error {
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if archivePath == "" || targetDir == "" {
		return fmt.Errorf("archivePath and targetDir are required")
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		rel, err := sanitizeArchiveRelPath(hdr.Name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(targetDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, tr); err != nil {
				_ = dst.Close()
				return err
			}
			if err := dst.Close(); err != nil {
				return err
			}
		default:
			// Ignore unsupported entry types.
		}
	}
	return nil
}

// Report summarizes a database integrity check.
type Report struct {
	Integrity string
	Templates int
	Instances int
}

// Verify opens the database at dbPath, runs PRAGMA integrity_check, and
// counts the core tables. Used after a restore to prove the backup is
// usable before swapping it in.
func Verify(dbPath string) (Report, error) {
	var rep Report
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro")
	if err != nil {
		return rep, err
	}
	defer db.Close()

	if err := db.QueryRow("PRAGMA integrity_check").Scan(&rep.Integrity); err != nil {
		return rep, err
	}
	if rep.Integrity != "ok" {
		return rep, fmt.Errorf("integrity check failed: %s", rep.Integrity)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM templates").Scan(&rep.Templates); err != nil {
		return rep, err
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM instances").Scan(&rep.Instances); err != nil {
		return rep, err
	}
	return rep, nil
}

func sanitizeArchiveRelPath(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	return name, nil
}
