package book

import (
	"testing"
	"time"

	"marketbridge/pkg/types"
)

func TestParseSortsAndComputesBest(t *testing.T) {
	t.Parallel()
	bids := []types.PriceLevel{
		{Price: "0.40", Size: "10"},
		{Price: "0.45", Size: "5"},
	}
	asks := []types.PriceLevel{
		{Price: "0.55", Size: "8"},
		{Price: "0.50", Size: "3"},
	}

	pb := Parse("asset1", bids, asks)

	if !pb.HasBid || pb.BestBid != 0.45 {
		t.Errorf("BestBid = %v (HasBid=%v), want 0.45", pb.BestBid, pb.HasBid)
	}
	if !pb.HasAsk || pb.BestAsk != 0.50 {
		t.Errorf("BestAsk = %v (HasAsk=%v), want 0.50", pb.BestAsk, pb.HasAsk)
	}
	if pb.Bids[0].Price < pb.Bids[1].Price {
		t.Error("bids not sorted price-descending")
	}
	if pb.Asks[0].Price > pb.Asks[1].Price {
		t.Error("asks not sorted price-ascending")
	}
}

func TestParseDropsInvalidLevels(t *testing.T) {
	t.Parallel()
	bids := []types.PriceLevel{
		{Price: "not-a-number", Size: "10"},
		{Price: "0.5", Size: "0"},
		{Price: "-0.1", Size: "10"},
		{Price: "1.5", Size: "10"},
		{Price: "0.3", Size: "10"},
	}
	pb := Parse("asset1", bids, nil)
	if len(pb.Bids) != 1 {
		t.Fatalf("len(Bids) = %d, want 1 (only the valid level)", len(pb.Bids))
	}
	if pb.Bids[0].Price != 0.3 {
		t.Errorf("surviving bid price = %v, want 0.3", pb.Bids[0].Price)
	}
}

func TestParseEmptyBook(t *testing.T) {
	t.Parallel()
	pb := Parse("asset1", nil, nil)
	if pb.HasBid || pb.HasAsk {
		t.Error("empty book should have no bid or ask")
	}
}

func TestDepthSumsConfiguredLevels(t *testing.T) {
	t.Parallel()
	pb := Parse("asset1",
		[]types.PriceLevel{{Price: "0.5", Size: "10"}, {Price: "0.4", Size: "10"}, {Price: "0.3", Size: "10"}},
		[]types.PriceLevel{{Price: "0.6", Size: "10"}, {Price: "0.7", Size: "10"}, {Price: "0.8", Size: "10"}},
	)
	d := Depth(pb, 2)
	wantAsk := 0.6*10 + 0.7*10
	wantBid := 0.5*10 + 0.4*10
	if d.EntryDepthUSDAsk != wantAsk {
		t.Errorf("EntryDepthUSDAsk = %v, want %v", d.EntryDepthUSDAsk, wantAsk)
	}
	if d.ExitDepthUSDBid != wantBid {
		t.Errorf("ExitDepthUSDBid = %v, want %v", d.ExitDepthUSDBid, wantBid)
	}
	if d.AskLevelsUsed != 2 || d.BidLevelsUsed != 2 {
		t.Errorf("levels used = ask:%d bid:%d, want 2/2", d.AskLevelsUsed, d.BidLevelsUsed)
	}
}

func TestDepthClampsToAvailableLevels(t *testing.T) {
	t.Parallel()
	pb := Parse("asset1", []types.PriceLevel{{Price: "0.5", Size: "10"}}, nil)
	d := Depth(pb, 5)
	if d.BidLevelsUsed != 1 {
		t.Errorf("BidLevelsUsed = %d, want 1 (clamped to available)", d.BidLevelsUsed)
	}
}

func TestIsDepthSufficient(t *testing.T) {
	t.Parallel()
	d := types.DepthSnapshot{EntryDepthUSDAsk: 500, ExitDepthUSDBid: 500}
	if !IsDepthSufficient(d, 500, 500) {
		t.Error("expected sufficient at exact threshold")
	}
	if IsDepthSufficient(d, 501, 500) {
		t.Error("expected insufficient when ask side below minimum")
	}
	if IsDepthSufficient(d, 500, 501) {
		t.Error("expected insufficient when bid side below minimum")
	}
}

func TestMirrorUpdateAndGet(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected no book for unknown asset")
	}

	pb := Parse("asset1", []types.PriceLevel{{Price: "0.5", Size: "10"}}, nil)
	m.Update("asset1", pb)

	got, ok := m.Get("asset1")
	if !ok {
		t.Fatal("expected book after update")
	}
	if got.BestBid != 0.5 {
		t.Errorf("BestBid = %v, want 0.5", got.BestBid)
	}
}

func TestMirrorIsStale(t *testing.T) {
	t.Parallel()
	m := NewMirror()
	if !m.IsStale("never-seen", time.Hour) {
		t.Error("never-updated asset should be stale")
	}

	m.Update("asset1", types.ParsedBook{AssetID: "asset1"})
	if m.IsStale("asset1", time.Hour) {
		t.Error("just-updated asset should not be stale")
	}
	if !m.IsStale("asset1", -time.Second) {
		t.Error("negative max age should always report stale")
	}
}
