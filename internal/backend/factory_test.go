package backend

import (
	"context"
	"path/filepath"
	"testing"

	eventsmem "ledger/internal/events/memory"
	"ledger/internal/notify"
	sheetsmem "ledger/internal/sheets/memory"
	"ledger/internal/storage"
	storemem "ledger/internal/storage/memory"
)

func TestBackendType_IsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("sheets").IsValid() {
		t.Error("sheets is no longer a data backend")
	}
	if got := GetBackendTypeStrings(); len(got) != 3 || got[1] != "postgres" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"memory", Config{Type: MemoryBackend}, false},
		{"amqp without exchange", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost"}, true},
		{"unknown", Config{Type: "mongo"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFactory_OpenStore(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()

	res, err := f.OpenStore(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Store.(*storemem.Store); !ok {
		t.Errorf("memory backend returned %T", res.Store)
	}

	res, err = f.OpenStore(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Cleanup()
	if _, ok := res.Store.(*storage.SQLiteRepository); !ok {
		t.Errorf("sqlite backend returned %T", res.Store)
	}
}

func TestFactory_DisabledIntegrations(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()
	cfg := Config{Type: MemoryBackend}

	d, err := f.OpenDispatcher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, ok := d.(*eventsmem.Queue); !ok {
		t.Errorf("dispatcher = %T, want in-process queue", d)
	}

	n, err := f.NewNotifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n.(*notify.LogNotifier); !ok {
		t.Errorf("notifier = %T, want log notifier", n)
	}

	svc, err := f.NewInsights(ctx, cfg)
	if err != nil || svc != nil {
		t.Errorf("NewInsights() = %v, %v; want nil, nil", svc, err)
	}

	w, err := f.NewReportWriter(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := w.(*sheetsmem.Store); !ok {
		t.Errorf("report writer = %T, want in-memory sheet", w)
	}

	w, err = f.NewReportWriter(ctx, Config{Type: SQLiteBackend})
	if err != nil || w != nil {
		t.Errorf("sqlite without spreadsheet should disable export, got %v, %v", w, err)
	}
}
