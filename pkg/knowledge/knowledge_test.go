package knowledge

import (
	"context"
	"testing"

	"github.com/kadirpekel/nestor/pkg/config"
)

func TestServiceRoutesByKnowledgeBaseID(t *testing.T) {
	service := NewService()
	err := service.Register("faq", NewMemoryBase("faq", []config.SeedDocument{
		{Text: "Refunds are accepted within 30 days."},
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := service.Search(context.Background(), "faq", "refunds accepted days", 3, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Grounded {
		t.Error("expected grounded result from seeded base")
	}

	if _, err := service.Search(context.Background(), "missing", "anything", 3, 0.5); err == nil {
		t.Error("expected error for unknown knowledge base id")
	}
}

func TestServiceRejectsDuplicateIDs(t *testing.T) {
	service := NewService()
	base := NewMemoryBase("faq", nil)
	if err := service.Register("faq", base); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := service.Register("faq", base); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestNewServiceFromConfigBuildsMemoryBases(t *testing.T) {
	cfg := &config.KnowledgeBaseConfig{
		Documents: []config.SeedDocument{{Text: "Orders ship within two days."}},
	}
	cfg.SetDefaults("faq")

	service, err := NewServiceFromConfig(context.Background(), map[string]*config.KnowledgeBaseConfig{
		"faq": cfg,
	})
	if err != nil {
		t.Fatalf("NewServiceFromConfig: %v", err)
	}
	defer func() { _ = service.Close() }()

	if got := service.Names(); len(got) != 1 || got[0] != "faq" {
		t.Fatalf("Names = %v, want [faq]", got)
	}

	result, err := service.Search(context.Background(), "faq", "orders ship days", 3, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Grounded {
		t.Error("expected grounded result")
	}
}

func TestNewServiceFromConfigRejectsUnknownProvider(t *testing.T) {
	_, err := NewServiceFromConfig(context.Background(), map[string]*config.KnowledgeBaseConfig{
		"bad": {Provider: "warehouse"},
	})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestResultMapShape(t *testing.T) {
	result := &Result{
		Results: []Document{
			{
				ID:       "returns",
				Content:  "Refunds are accepted within 30 days.",
				Score:    0.92,
				Metadata: map[string]any{"source": "faq"},
			},
			{Content: "Unrelated.", Score: 0.55},
		},
		Answer:     "Refunds are accepted within 30 days.",
		Confidence: 0.92,
		Grounded:   true,
	}

	m := result.Map()
	if m["answer"] != result.Answer {
		t.Errorf("answer = %v", m["answer"])
	}
	if m["confidence"] != 0.92 {
		t.Errorf("confidence = %v", m["confidence"])
	}
	if m["grounded"] != true {
		t.Errorf("grounded = %v", m["grounded"])
	}

	sources, ok := m["sources"].([]any)
	if !ok {
		t.Fatalf("sources has type %T, want []any", m["sources"])
	}
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}

	first, ok := sources[0].(map[string]any)
	if !ok {
		t.Fatalf("source has type %T", sources[0])
	}
	if first["id"] != "returns" || first["score"] != 0.92 {
		t.Errorf("first source = %v", first)
	}

	second, ok := sources[1].(map[string]any)
	if !ok {
		t.Fatalf("source has type %T", sources[1])
	}
	if _, present := second["id"]; present {
		t.Error("source without id should omit the key")
	}
	if _, present := second["metadata"]; present {
		t.Error("source without metadata should omit the key")
	}
}

func TestResultMapEmpty(t *testing.T) {
	m := (&Result{}).Map()

	if m["answer"] != "" {
		t.Errorf("answer = %v, want empty", m["answer"])
	}
	if m["grounded"] != false {
		t.Errorf("grounded = %v, want false", m["grounded"])
	}
	sources, ok := m["sources"].([]any)
	if !ok || len(sources) != 0 {
		t.Errorf("sources = %v, want empty list", m["sources"])
	}
}
