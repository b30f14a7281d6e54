package exchange

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"marketbridge/pkg/types"
)

func dryRunClient() *Client {
	return &Client{
		dryRun: true,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPostOrdersDryRunRejectsOverBatchLimit(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	orders := make([]types.UserOrder, 16)
	if _, err := c.PostOrders(context.Background(), orders, false); err == nil {
		t.Fatal("expected error for batch over 15 orders")
	}
}

func TestPostOrdersDryRunReturnsSuccess(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	orders := []types.UserOrder{{TokenID: "tok1", Side: types.BUY, Price: 0.5, Size: 10}}
	results, err := c.PostOrders(context.Background(), orders, false)
	if err != nil {
		t.Fatalf("PostOrders: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v, want one successful dry-run result", results)
	}
}

func TestPostOrdersEmptyIsNoop(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	results, err := c.PostOrders(context.Background(), nil, false)
	if err != nil || results != nil {
		t.Fatalf("PostOrders(nil) = %v, %v, want nil, nil", results, err)
	}
}

func TestBuyDryRunSucceeds(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	res, err := c.Buy(context.Background(), "tok1", 0.5, 50, types.Tick01)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.OK {
		t.Fatalf("res = %+v, want OK", res)
	}
	if res.FilledShares != 100 {
		t.Errorf("FilledShares = %v, want 100 (50 USD / 0.5)", res.FilledShares)
	}
	if res.SpentUSD != 50 {
		t.Errorf("SpentUSD = %v, want 50", res.SpentUSD)
	}
}

func TestSellDryRunSucceeds(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	res, err := c.Sell(context.Background(), "tok1", 0.6, 20, types.Tick01)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if !res.OK {
		t.Fatalf("res = %+v, want OK", res)
	}
	if res.AvgFillPrice != 0.6 {
		t.Errorf("AvgFillPrice = %v, want 0.6", res.AvgFillPrice)
	}
}

func TestCancelOrdersDryRunSucceeds(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	res, err := c.CancelOrders(context.Background(), []string{"o1", "o2"})
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if len(res.Canceled) != 2 {
		t.Errorf("Canceled = %v, want 2 entries", res.Canceled)
	}
}

func TestCancelOrdersEmptyIsNoop(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	res, err := c.CancelOrders(context.Background(), nil)
	if err != nil {
		t.Fatalf("CancelOrders(nil): %v", err)
	}
	if len(res.Canceled) != 0 {
		t.Errorf("expected no cancellations for empty input")
	}
}

func TestCancelAllDryRunSucceeds(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	if _, err := c.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestCancelMarketOrdersDryRunSucceeds(t *testing.T) {
	t.Parallel()
	c := dryRunClient()
	if _, err := c.CancelMarketOrders(context.Background(), "cond1"); err != nil {
		t.Fatalf("CancelMarketOrders: %v", err)
	}
}
