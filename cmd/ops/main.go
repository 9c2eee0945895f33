package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"chorekeep/internal/clock"
	"chorekeep/internal/family"
	"chorekeep/internal/generate"
	"chorekeep/internal/genlock"
	"chorekeep/internal/model"
	"chorekeep/internal/ops"
	"chorekeep/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "backup":
		if err := cmdBackup(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "backup failed:", err)
			os.Exit(1)
		}
	case "restore":
		if err := cmdRestore(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "restore failed:", err)
			os.Exit(1)
		}
	case "verify":
		if err := cmdVerify(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "verify failed:", err)
			os.Exit(1)
		}
	case "drill":
		if err := cmdDrill(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "drill failed:", err)
			os.Exit(1)
		}
	case "generate":
		if err := cmdGenerate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "generate failed:", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "data", "path to data directory")
	out := fs.String("out", "", "output archive path (.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "" {
		ts := time.Now().UTC().Format("20060102T150405Z")
		*out = filepath.Join("backups", "chorekeep-"+ts+".tar.gz")
	}

	if err := ops.Backup(*dataDir, *out); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func cmdRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	archive := fs.String("archive", "", "input backup archive (.tar.gz)")
	target := fs.String("target-dir", "data-restored", "restore target directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *archive == "" {
		return fmt.Errorf("archive is required")
	}
	return ops.Restore(*archive, *target)
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "data", "path to data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rep, err := ops.Verify(filepath.Join(*dataDir, ops.DBFileName))
	if err != nil {
		return err
	}
	fmt.Printf("integrity: %s\ntemplates: %d\ninstances: %d\n", rep.Integrity, rep.Templates, rep.Instances)
	return nil
}

// cmdDrill runs a full backup → restore → verify cycle against throwaway
// directories, proving the backup path actually works before it is needed.
func cmdDrill(args []string) error {
	fs := flag.NewFlagSet("drill", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "data", "path to data directory")
	workDir := fs.String("work-dir", os.TempDir(), "temporary workspace for drill artifacts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		return err
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	archive := filepath.Join(*workDir, "chorekeep-drill-"+ts+".tar.gz")
	restoreDir := filepath.Join(*workDir, "chorekeep-drill-restore-"+ts)

	if err := ops.Backup(*dataDir, archive); err != nil {
		return err
	}
	if err := ops.Restore(archive, restoreDir); err != nil {
		return err
	}
	rep, err := ops.Verify(filepath.Join(restoreDir, ops.DBFileName))
	if err != nil {
		return err
	}

	fmt.Println("backup:", archive)
	fmt.Println("restored:", restoreDir)
	fmt.Printf("verified: integrity=%s templates=%d instances=%d\n", rep.Integrity, rep.Templates, rep.Instances)
	return nil
}

// cmdGenerate runs family-wide generation directly against the data dir,
// for deployments that trigger it from cron instead of the login hook.
func cmdGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "data", "path to data directory")
	caller := fs.String("user", "", "account to generate for (parents cover their children)")
	date := fs.String("date", "", "target date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caller == "" {
		return fmt.Errorf("user is required")
	}

	st, err := store.OpenSQLite(filepath.Join(*dataDir, ops.DBFileName))
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := family.LoadFile(filepath.Join(*dataDir, "users.yml"))
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	coord := &generate.Coordinator{
		Templates: st,
		Instances: st,
		Users:     users,
		Locks:     genlock.NewRegistry(genlock.DefaultTTL, clk, log.Default()),
		Clock:     clk,
		Logger:    log.Default(),
	}

	day := model.DateOf(clk.Now())
	if *date != "" {
		day, err = model.ParseDate(*date)
		if err != nil {
			return err
		}
	}

	created, err := coord.EnsureForFamily(context.Background(), model.UserID(*caller), day)
	if err != nil {
		return err
	}
	fmt.Printf("created %d instances for %s on %s\n", created, *caller, day)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  ops backup   [-data-dir data] [-out backups/chorekeep-<ts>.tar.gz]
  ops restore  -archive <path> [-target-dir data-restored]
  ops verify   [-data-dir data]
  ops drill    [-data-dir data] [-work-dir <tmp>]
  ops generate -user <id> [-data-dir data] [-date YYYY-MM-DD]`)
}
