package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("データベース接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
	}

	t.Run("バージョン順に適用され再実行ではスキップされること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()

		n, err := Run(ctx, db, fsys, "migrations", nil)
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want %d", n, 2)
		}

		n, err = Run(ctx, db, fsys, "migrations", nil)
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の適用件数 = %d, want %d", n, 0)
		}

		var name string
		if err := db.QueryRow("SELECT name FROM schema_migrations WHERE version = 2").Scan(&name); err != nil {
			t.Fatalf("適用記録の取得に失敗: %v", err)
		}
		if name != "add_index" {
			t.Errorf("name = %q, want %q", name, "add_index")
		}
	})

	t.Run("SQLが不正な場合はエラーを返し記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE;")},
		}

		if _, err := Run(context.Background(), db, broken, "m", nil); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("適用記録の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("適用記録数 = %d, want 0", count)
		}
	})

	t.Run("バージョンが重複する場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte("SELECT 1;")},
			"m/000001_b.up.sql": {Data: []byte("SELECT 1;")},
		}

		if _, err := Run(context.Background(), db, dup, "m", nil); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}
	})
}
