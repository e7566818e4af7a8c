package records

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/storage"
)

func openTenant(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(context.Background(), db, storage.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestInsertMapsColumns(t *testing.T) {
	db := openTenant(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		rt     fusion.RecordType
		fields map[string]string
		column string
		want   string
	}{
		{"baptism", fusion.RecordBaptism, map[string]string{"child_name": "Anna", "godparents": "Maria"}, "godparents", "Maria"},
		{"marriage", fusion.RecordMarriage, map[string]string{"groom_name": "Ivan", "bride_name": "Olga"}, "bride_name", "Olga"},
		{"funeral", fusion.RecordFuneral, map[string]string{"deceased_name": "Georgios", "age_at_death": "81"}, "age_at_death", "81"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ins, err := New(tc.rt, storage.DialectSQLite)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			id, err := ins.Insert(ctx, db, fusion.RecordInput{ChurchID: 7, Fields: tc.fields, CreatedBy: "priest", CreatedAt: at})
			if err != nil {
				t.Fatalf("insert: %v", err)
			}

			var got, by string
			var notes sql.NullString
			row := db.QueryRow(`SELECT `+tc.column+`, notes, created_by FROM `+ins.table+` WHERE id = ?`, id)
			if err := row.Scan(&got, &notes, &by); err != nil {
				t.Fatalf("read back: %v", err)
			}
			if got != tc.want || by != "priest" {
				t.Errorf("%s = %q created_by = %q", tc.column, got, by)
			}
			if notes.Valid {
				t.Errorf("unset notes should be NULL, got %q", notes.String)
			}
		})
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New("unknown", storage.DialectSQLite); err == nil {
		t.Error("expected an error for an unknown record type")
	}
	if got := len(All(storage.DialectPostgres)); got != 3 {
		t.Errorf("All returned %d inserters, want 3", got)
	}
}
