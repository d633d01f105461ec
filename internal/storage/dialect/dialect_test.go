package dialect

import (
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		dialectType DialectType
		wantName    string
		wantErr     bool
	}{
		{"sqlite", SQLite, "sqlite", false},
		{"postgres", Postgres, "postgres", false},
		{"mysql", MySQL, "mysql", false},
		{"unknown", DialectType("unknown"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dialectType)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantDriver string
		wantErr    bool
	}{
		{"sqlite", "sqlite", "sqlite", false},
		{"sqlite3", "sqlite", "sqlite", false},
		{"postgres", "postgres", "postgres", false},
		{"postgresql", "postgres", "postgres", false},
		{"mysql", "mysql", "mysql", false},
		{"unknown", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
			if d.DriverName() != tt.wantDriver {
				t.Errorf("DriverName() = %v, want %v", d.DriverName(), tt.wantDriver)
			}
		})
	}
}

func TestPostgresDialect_Rebind(t *testing.T) {
	d := &postgresDialect{}
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM exchanges WHERE id = ?", "SELECT * FROM exchanges WHERE id = $1"},
		{"SELECT * FROM exchanges WHERE is_test = ? AND sender_id = ?", "SELECT * FROM exchanges WHERE is_test = $1 AND sender_id = $2"},
		{"INSERT INTO peers VALUES (?, ?, ?)", "INSERT INTO peers VALUES ($1, $2, $3)"},
		{"SELECT * FROM peers", "SELECT * FROM peers"},
	}

	for _, tt := range tests {
		if got := d.Rebind(tt.query); got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}

	for _, q := range []string{"SELECT ? FROM peers"} {
		for _, same := range []Dialect{&sqliteDialect{}, &mysqlDialect{}} {
			if got := same.Rebind(q); got != q {
				t.Errorf("%s Rebind() = %q, want unchanged", same.Name(), got)
			}
		}
	}
}

func TestUpsertClause(t *testing.T) {
	cols := []string{"name", "direction"}
	tests := []struct {
		d    Dialect
		want string
	}{
		{&sqliteDialect{}, "ON CONFLICT(id) DO UPDATE SET name=excluded.name, direction=excluded.direction"},
		{&postgresDialect{}, "ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, direction = EXCLUDED.direction"},
		{&mysqlDialect{}, "ON DUPLICATE KEY UPDATE name = VALUES(name), direction = VALUES(direction)"},
	}

	for _, tt := range tests {
		t.Run(tt.d.Name(), func(t *testing.T) {
			if got := tt.d.UpsertClause("id", cols); got != tt.want {
				t.Errorf("UpsertClause() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateIndex(t *testing.T) {
	if got := (&sqliteDialect{}).CreateIndex("idx_x", "exchanges", "is_test", "created_at"); got != "CREATE INDEX IF NOT EXISTS idx_x ON exchanges(is_test, created_at)" {
		t.Errorf("sqlite CreateIndex() = %q", got)
	}
	if got := (&mysqlDialect{}).CreateIndex("idx_x", "exchanges", "created_at"); got != "" {
		t.Errorf("mysql CreateIndex() = %q, want empty", got)
	}
}
