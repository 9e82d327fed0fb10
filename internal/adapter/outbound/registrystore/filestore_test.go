package registrystore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-door/agentdoor/internal/domain/registry"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFileStore_RegisterGetList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.json")
	s := NewFileStore(path, discardLogger())
	ctx := context.Background()

	a := tenant.SiteRegistration{Slug: "alpha", SiteName: "Alpha", SiteURL: "https://alpha.example.com", APIURL: "https://alpha.example.com/api", OpenAPIURL: "https://alpha.example.com/openapi.json", RateLimit: 60, CreatedAt: time.Now().UTC()}
	b := tenant.SiteRegistration{Slug: "beta", SiteName: "Beta", SiteURL: "https://beta.example.com", APIURL: "https://beta.example.com/api", OpenAPIURL: "https://beta.example.com/openapi.json", RateLimit: 30, CreatedAt: time.Now().UTC()}

	if err := s.Register(ctx, a, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := s.Register(ctx, b, json.RawMessage(`{"b":2}`)); err != nil {
		t.Fatalf("register b: %v", err)
	}

	got, err := s.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("get alpha: %v", err)
	}
	if got.SiteName != "Alpha" {
		t.Errorf("expected Alpha, got %q", got.SiteName)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Slug != "alpha" || list[1].Slug != "beta" {
		t.Fatalf("expected [alpha beta] in insertion order, got %+v", list)
	}

	withSpecs, err := s.ListWithSpecs(ctx)
	if err != nil {
		t.Fatalf("list with specs: %v", err)
	}
	if string(withSpecs[0].SpecJSON) != `{"a":1}` {
		t.Errorf("unexpected spec json: %s", withSpecs[0].SpecJSON)
	}
}

func TestFileStore_GetUnknownReturnsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.json")
	s := NewFileStore(path, discardLogger())
	if _, err := s.Get(context.Background(), "missing"); err != registry.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.json")
	s := NewFileStore(path, discardLogger())
	ctx := context.Background()

	reg := tenant.SiteRegistration{Slug: "gone", SiteName: "Gone", SiteURL: "https://gone.example.com", APIURL: "https://gone.example.com/api", OpenAPIURL: "https://gone.example.com/openapi.json", RateLimit: 10}
	if err := s.Register(ctx, reg, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("register: %v", err)
	}

	existed, err := s.Delete(ctx, "gone")
	if err != nil || !existed {
		t.Fatalf("expected existed=true, got %v err=%v", existed, err)
	}
	existed, err = s.Delete(ctx, "gone")
	if err != nil || existed {
		t.Fatalf("expected existed=false on second delete, got %v err=%v", existed, err)
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.json")
	ctx := context.Background()

	s1 := NewFileStore(path, discardLogger())
	reg := tenant.SiteRegistration{Slug: "durable", SiteName: "Durable", SiteURL: "https://durable.example.com", APIURL: "https://durable.example.com/api", OpenAPIURL: "https://durable.example.com/openapi.json", RateLimit: 15}
	if err := s1.Register(ctx, reg, json.RawMessage(`{"x":true}`)); err != nil {
		t.Fatalf("register: %v", err)
	}

	s2 := NewFileStore(path, discardLogger())
	got, err := s2.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("get from new instance: %v", err)
	}
	if got.SiteName != "Durable" {
		t.Errorf("expected Durable, got %q", got.SiteName)
	}
}

func TestFileStore_CorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := NewFileStore(path, discardLogger())
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list on corrupt file: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty registry on corrupt file, got %d entries", len(list))
	}
}
