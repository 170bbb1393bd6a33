package main

import (
	"compress/gzip"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
)

// runBackup implements `tools backup {create|restore|list}`, adapted from
// tools/db-backup.go: WAL checkpoint before copy, PRAGMA integrity_check
// verification on the result, gzip compression, timestamped filenames.
func runBackup(args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}
	switch args[0] {
	case "create":
		return runBackupCreate(args[1:])
	case "restore":
		return runBackupRestore(args[1:])
	case "list":
		return runBackupList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "taskmind: unknown backup subcommand %q\n", args[0])
		usage()
		return exitFailure
	}
}

func dbPathFromConfig(configPath string) (string, error) {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.Store.Path, "taskmind.db"), nil
}

func runBackupCreate(args []string) int {
	fs := flag.NewFlagSet("tools backup create", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	dest := fs.String("dest", "", "backup directory (default: <store path>/backups)")
	verify := fs.Bool("verify", true, "run integrity check on the backup")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	dbPath, err := dbPathFromConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
		return exitConfig
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: source database %s not found: %v\n", dbPath, err)
		return exitFailure
	}

	destDir := *dest
	if destDir == "" {
		destDir = filepath.Join(filepath.Dir(dbPath), "backups")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: create backup dir: %v\n", err)
		return exitFailure
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := filepath.Join(destDir, fmt.Sprintf("taskmind-backup-%s.db.gz", timestamp))

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: open source database: %v\n", err)
		return exitFailure
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: warning: checkpoint failed: %v\n", err)
	}
	db.Close()

	if err := compressFile(dbPath, backupPath); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: backup failed: %v\n", err)
		return exitFailure
	}

	if *verify {
		if err := verifyCompressedBackup(backupPath); err != nil {
			fmt.Fprintf(os.Stderr, "taskmind: backup verification failed: %v\n", err)
			return exitFailure
		}
	}

	info, _ := os.Stat(backupPath)
	fmt.Printf("backup created: %s (%s)\n", backupPath, humanize.Bytes(uint64(info.Size())))
	return exitOK
}

func runBackupRestore(args []string) int {
	fs := flag.NewFlagSet("tools backup restore", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	from := fs.String("from", "", "backup file to restore (required, .db.gz)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *from == "" {
		fmt.Fprintln(os.Stderr, "taskmind: --from is required")
		return exitFailure
	}

	dbPath, err := dbPathFromConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
		return exitConfig
	}

	if err := verifyCompressedBackup(*from); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: refusing to restore a corrupt backup: %v\n", err)
		return exitFailure
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
		return exitFailure
	}
	if _, err := os.Stat(dbPath); err == nil {
		preserved := dbPath + ".pre-restore-" + time.Now().Format("20060102-150405")
		if err := os.Rename(dbPath, preserved); err != nil {
			fmt.Fprintf(os.Stderr, "taskmind: preserve existing database: %v\n", err)
			return exitFailure
		}
		fmt.Printf("existing database preserved at %s\n", preserved)
	}

	if err := decompressFile(*from, dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "taskmind: restore failed: %v\n", err)
		return exitFailure
	}

	fmt.Printf("restored %s to %s\n", *from, dbPath)
	return exitOK
}

func runBackupList(args []string) int {
	fs := flag.NewFlagSet("tools backup list", flag.ContinueOnError)
	configPath := fs.String("config", "taskmind.toml", "path to config file")
	dir := fs.String("dir", "", "backup directory (default: <store path>/backups)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	backupDir := *dir
	if backupDir == "" {
		dbPath, err := dbPathFromConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
			return exitConfig
		}
		backupDir = filepath.Join(filepath.Dir(dbPath), "backups")
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no backups found")
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "taskmind: %v\n", err)
		return exitFailure
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".db.gz") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		info, err := os.Stat(filepath.Join(backupDir, name))
		if err != nil {
			continue
		}
		fmt.Printf("%-40s %10s   %s\n", name, humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
	}
	return exitOK
}

func compressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}
	return dst.Sync()
}

func decompressFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, gz); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return dst.Sync()
}

// verifyCompressedBackup decompresses backupPath to a scratch file and runs
// PRAGMA integrity_check against it, mirroring tools/db-backup.go's
// verifyBackup.
func verifyCompressedBackup(backupPath string) error {
	scratch, err := os.CreateTemp("", "taskmind-verify-*.db")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	if err := decompressFile(backupPath, scratchPath); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", scratchPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
