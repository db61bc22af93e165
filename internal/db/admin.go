package db

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pax.report/internal/monitoring"
)

// TableStats is the row count for one table.
type TableStats struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// DatabaseStats summarises on-disk size and per-table row counts for
// the admin surface.
type DatabaseStats struct {
	Path        string       `json:"path"`
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

// Stats reports the database size and row counts of all user tables.
func (db *DB) Stats() (DatabaseStats, error) {
	stats := DatabaseStats{Path: db.path}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return stats, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return stats, fmt.Errorf("failed to read page_size: %w", err)
	}
	stats.TotalSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return stats, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to list tables: %w", err)
	}

	for _, name := range names {
		var count int64
		// Table names come from sqlite_master, not the client.
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, name)).Scan(&count); err != nil {
			return stats, fmt.Errorf("failed to count rows in %s: %w", name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{Name: name, Rows: count})
	}

	return stats, nil
}

// AttachAdminRoutes mounts the debug surface on mux: a tailSQL
// console, an on-demand gzipped backup, database stats, and schema
// migration status, all under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		// The sensor keeps counting without the SQL console.
		monitoring.Logf("db: tailsql unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://pax.db", db.DB, &tailsql.DBOptions{
			Label: "Pax journal",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))

	debug.Handle("db-stats", "Database size and row counts", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.Stats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to collect stats: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}))

	debug.Handle("migrations", "Schema migration status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := db.GetMigrationStatus()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read migration status: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, status)
	}))
}

// handleBackup snapshots the database with VACUUM INTO and streams it
// back gzipped. The snapshot file is removed once sent.
func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := fmt.Sprintf("pax-backup-%d.db", time.Now().Unix())
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	// close the backup file after sending it
	// and remove it from the filesystem
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("db: failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
	w.Header().Set("Content-Type", "application/octet-stream")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("db: failed to stream backup: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("db: encode response: %v", err)
	}
}
