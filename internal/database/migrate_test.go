package database

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/caregate/caregate/internal/plugins/auth"
)

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

func readMigrations(t *testing.T) map[string]string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(migrationsDir(t), "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing migration files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		out[filepath.Base(f)] = string(data)
	}
	return out
}

// enumValues extracts the quoted members of an ENUM column definition.
func enumValues(t *testing.T, sql, column string) []string {
	t.Helper()
	re := regexp.MustCompile(column + `\s+ENUM\(([^)]*)\)`)
	m := re.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	var values []string
	for _, part := range strings.Split(m[1], ",") {
		values = append(values, strings.Trim(strings.TrimSpace(part), "'"))
	}
	sort.Strings(values)
	return values
}

// TestMigrations_InvitationStatusValues keeps the subjects.invitation_status
// ENUM in step with the statuses the auth service writes. A value missing
// from the ENUM fails at runtime with "Data truncated for column" (1265).
func TestMigrations_InvitationStatusValues(t *testing.T) {
	want := []string{auth.InvitationActive, auth.InvitationInviteSent, auth.InvitationPending}
	sort.Strings(want)

	var found bool
	for name, sql := range readMigrations(t) {
		got := enumValues(t, sql, "invitation_status")
		if got == nil {
			continue
		}
		found = true
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("%s: invitation_status ENUM = %v, want %v", name, got, want)
		}
	}
	if !found {
		t.Fatal("no migration defines invitation_status")
	}
}

// TestMigrations_AccountKindValues does the same for auth_events.account_kind.
func TestMigrations_AccountKindValues(t *testing.T) {
	want := []string{string(auth.KindClinician), string(auth.KindSubject)}
	sort.Strings(want)

	var found bool
	for name, sql := range readMigrations(t) {
		got := enumValues(t, sql, "account_kind")
		if got == nil {
			continue
		}
		found = true
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("%s: account_kind ENUM = %v, want %v", name, got, want)
		}
	}
	if !found {
		t.Fatal("no migration defines account_kind")
	}
}

// TestMigrations_AccountTablesShareColumns checks both account tables carry
// every column the generic repository selects.
func TestMigrations_AccountTablesShareColumns(t *testing.T) {
	shared := []string{
		"email", "first_name", "last_name", "password_hash",
		"otp_code", "otp_expires_at", "otp_verified", "otp_consumed_digest",
		"refresh_token_hash", "last_activity", "created_at",
	}
	migrations := readMigrations(t)

	for _, table := range []string{"clinicians", "subjects"} {
		var sql string
		for _, content := range migrations {
			if strings.Contains(content, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				sql = content
				break
			}
		}
		if sql == "" {
			t.Errorf("no migration creates %s", table)
			continue
		}
		for _, col := range shared {
			if !regexp.MustCompile(`(?m)^\s+` + col + `\s`).MatchString(sql) {
				t.Errorf("%s is missing column %s", table, col)
			}
		}
	}
}

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}
