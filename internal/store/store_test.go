package store

import "testing"

type testDoc struct {
	YesQty      float64
	RealizedPnL float64
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	doc := testDoc{YesQty: 10.5, RealizedPnL: 1.23}
	if err := s.Save("mkt1", doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var loaded testDoc
	ok, err := s.Load("mkt1", &loaded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported missing document")
	}
	if loaded != doc {
		t.Errorf("loaded = %+v, want %+v", loaded, doc)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var loaded testDoc
	ok, err := s.Load("nonexistent", &loaded)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for missing document, got true")
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.Save("mkt1", testDoc{YesQty: 10})
	_ = s.Save("mkt1", testDoc{YesQty: 20})

	var loaded testDoc
	if _, err := s.Load("mkt1", &loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.YesQty != 20 {
		t.Errorf("YesQty = %v, want 20 (latest save)", loaded.YesQty)
	}
}
