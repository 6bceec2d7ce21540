package feeder

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/oracle"
	"fx-price-feeder/internal/pricing"
	"fx-price-feeder/internal/provider"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

type fakeProvider struct {
	name    string
	samples map[string]*pricing.PriceSample
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Get(_ context.Context, symbol string) (*pricing.PriceSample, error) {
	sample, ok := f.samples[symbol]
	if !ok {
		return nil, nil
	}
	copied := *sample
	return &copied, nil
}

type fakeOracle struct {
	batch       bool
	batchErr    error
	singleFails map[string]error
	batches     [][]oracle.Update
	singles     []oracle.Update
}

func (f *fakeOracle) SupportsBatch() bool { return f.batch }

func (f *fakeOracle) UpdatePriceBatch(_ context.Context, updates []oracle.Update) (string, error) {
	if f.batchErr != nil {
		return "", f.batchErr
	}
	f.batches = append(f.batches, updates)
	return "0xbatch", nil
}

func (f *fakeOracle) UpdatePrice(_ context.Context, update oracle.Update) (string, error) {
	if err, ok := f.singleFails[update.Symbol]; ok {
		return "", err
	}
	f.singles = append(f.singles, update)
	return "0x" + update.Symbol, nil
}

func (f *fakeOracle) GetPrice(context.Context, [32]byte) (oracle.PriceData, error) {
	return oracle.PriceData{}, errors.New("not implemented")
}

func testAssets() []pricing.Asset {
	return []pricing.Asset{
		{Symbol: "EURUSD", Class: pricing.ClassFX, Providers: []string{"market", "backup"}},
		{Symbol: "XAUUSD", Class: pricing.ClassBullion, Providers: []string{"market", "gold"}},
	}
}

func registryWith(market, fallback provider.Provider) *provider.Registry {
	return provider.NewRegistry(map[provider.Kind]provider.Provider{
		provider.KindMarket: market,
		provider.KindBackup: fallback,
		provider.KindGold:   fallback,
	})
}

func sampleAt(symbol string, value int64, decimals int) *pricing.PriceSample {
	return &pricing.PriceSample{Symbol: symbol, Value: big.NewInt(value), Decimals: decimals, Timestamp: 1700000000}
}

func TestRunFallbackNormalizesTo18Decimals(t *testing.T) {
	// Primary has no EURUSD; backup answers at 6 decimals.
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{}}
	backup := &fakeProvider{name: "backup", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
	}}

	f, err := New(testAssets()[:1], registryWith(market, backup), nil, nil, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Updated != 1 || summary.Degraded != 1 || summary.Skipped != 0 {
		t.Fatalf("expected updated=1 degraded=1, got %+v", summary)
	}
	want, _ := new(big.Int).SetString("1234500000000000000", 10)
	if summary.Results[0].Quote.Value.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, summary.Results[0].Quote.Value)
	}
}

func TestRunSkipsNeverAbort(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"XAUUSD": sampleAt("XAUUSD", 24012500, 4),
	}}
	empty := &fakeProvider{name: "backup"}

	f, err := New(testAssets(), registryWith(market, empty), nil, nil, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Total != 2 || summary.Updated != 1 || summary.Skipped != 1 {
		t.Fatalf("one miss should be a skip: %+v", summary)
	}
	if summary.Updated+summary.Skipped != summary.Total {
		t.Fatal("updated + skipped must equal total")
	}
}

func TestRunBatchCommit(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
		"XAUUSD": sampleAt("XAUUSD", 24012500, 4),
	}}
	chain := &fakeOracle{batch: true}

	f, err := New(testAssets(), registryWith(market, &fakeProvider{name: "backup"}), nil, chain, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{Commit: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.DryRun {
		t.Fatal("commit run should not be dry")
	}
	if len(chain.batches) != 1 || len(chain.batches[0]) != 2 {
		t.Fatalf("expected one batch of two updates, got %+v", chain.batches)
	}
	if len(summary.TxHashes) != 1 {
		t.Fatalf("expected one tx hash, got %v", summary.TxHashes)
	}
	if chain.batches[0][0].Decimals != 18 {
		t.Fatal("committed updates must carry 18 decimals")
	}
}

func TestRunPerAssetCommitFallback(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
		"XAUUSD": sampleAt("XAUUSD", 24012500, 4),
	}}
	chain := &fakeOracle{batch: false}

	f, err := New(testAssets(), registryWith(market, &fakeProvider{name: "backup"}), nil, chain, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{Commit: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(chain.singles) != 2 || len(summary.TxHashes) != 2 {
		t.Fatalf("expected two single commits, got %d/%d", len(chain.singles), len(summary.TxHashes))
	}
}

func TestRunCommitErrorCarriesAssetKeys(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
		"XAUUSD": sampleAt("XAUUSD", 24012500, 4),
	}}
	chain := &fakeOracle{batch: false, singleFails: map[string]error{"XAUUSD": errors.New("reverted")}}

	f, err := New(testAssets(), registryWith(market, &fakeProvider{name: "backup"}), nil, chain, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{Commit: true})
	if err == nil {
		t.Fatal("expected commit error")
	}

	var commitErr *CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected CommitError, got %T", err)
	}
	if len(commitErr.Assets) != 1 || commitErr.Assets[0] != "XAUUSD" {
		t.Fatalf("expected XAUUSD in failed assets, got %v", commitErr.Assets)
	}
	// The summary computed before the commit stays intact.
	if summary == nil || summary.Updated != 2 {
		t.Fatalf("summary should survive commit failure: %+v", summary)
	}
}

func TestRunSymbolOverride(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
		"XAUUSD": sampleAt("XAUUSD", 24012500, 4),
	}}

	f, err := New(testAssets(), registryWith(market, &fakeProvider{name: "backup"}), nil, nil, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	summary, err := f.Run(context.Background(), RunInput{Symbols: []string{"eurusd"}})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Total != 1 || summary.Results[0].Symbol != "EURUSD" {
		t.Fatalf("override should restrict universe: %+v", summary)
	}
}

func TestRunNoResolvableSymbolsIsFatal(t *testing.T) {
	f, err := New(testAssets(), registryWith(&fakeProvider{name: "market"}, &fakeProvider{name: "backup"}), nil, nil, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	if _, err := f.Run(context.Background(), RunInput{Symbols: []string{"ZZZZZZ"}}); err == nil {
		t.Fatal("unresolvable override list should be cycle-fatal")
	}
}

func TestRunTimestampOverride(t *testing.T) {
	market := &fakeProvider{name: "market", samples: map[string]*pricing.PriceSample{
		"EURUSD": sampleAt("EURUSD", 1234500, 6),
	}}
	chain := &fakeOracle{batch: true}

	f, err := New(testAssets()[:1], registryWith(market, &fakeProvider{name: "backup"}), nil, chain, noopLogger())
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}

	if _, err := f.Run(context.Background(), RunInput{Commit: true, TimestampOverride: 1699999999}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if chain.batches[0][0].Timestamp != 1699999999 {
		t.Fatalf("expected forced timestamp, got %d", chain.batches[0][0].Timestamp)
	}
}

func TestNewRejectsUnknownProviderName(t *testing.T) {
	assets := []pricing.Asset{{Symbol: "EURUSD", Providers: []string{"bloomberg"}}}
	if _, err := New(assets, registryWith(&fakeProvider{name: "market"}, &fakeProvider{name: "backup"}), nil, nil, noopLogger()); err == nil {
		t.Fatal("unknown provider name should fail construction")
	}
}
