// Command migrate manages the monitor database schema out of band. The
// server applies pending migrations on startup by itself; this tool
// exists for rollbacks and for inspecting schema state.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"rssmonitor/migrations"
)

var commands = map[string]func(*sql.DB) error{
	"up":      func(db *sql.DB) error { return goose.Up(db, ".") },
	"up-one":  func(db *sql.DB) error { return goose.UpByOne(db, ".") },
	"down":    func(db *sql.DB) error { return goose.Down(db, ".") },
	"redo":    func(db *sql.DB) error { return goose.Redo(db, ".") },
	"status":  func(db *sql.DB) error { return goose.Status(db, ".") },
	"version": func(db *sql.DB) error { return goose.Version(db, ".") },
	"reset":   func(db *sql.DB) error { return goose.Reset(db, ".") },
}

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/monitor.db"), "path to the monitor database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	name := flag.Arg(0)
	run, ok := commands[name]
	if !ok {
		log.Fatalf("unknown command %q", name)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(migrations.Dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	if err := run(db); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [-db path] <command>

Commands:
  up       apply all pending migrations
  up-one   apply the next pending migration
  down     roll back the most recent migration
  redo     roll back and re-apply the most recent migration
  status   print per-migration status
  version  print the current schema version
  reset    roll back everything`)
	flag.PrintDefaults()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
