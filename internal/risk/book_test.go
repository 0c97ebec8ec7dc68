package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func fill(portfolio schema.PortfolioID, inst schema.InstrumentID, qty schema.Quantity, price schema.Price) schema.Fill {
	return schema.Fill{Portfolio: portfolio, Instrument: inst, QtyDelta: qty, FillPrice: price}
}

func TestBookMovingAverageOnIncrease(t *testing.T) {
	book := NewBook()

	pos := book.ApplyFill(fill(1, 1, 10, 10000))
	assert.Equal(t, schema.Quantity(10), pos.Qty)
	assert.Equal(t, schema.Price(10000), pos.AvgCost)

	pos = book.ApplyFill(fill(1, 1, 10, 11000))
	assert.Equal(t, schema.Quantity(20), pos.Qty)
	assert.Equal(t, schema.Price(10500), pos.AvgCost)
}

func TestBookReductionKeepsAvgCost(t *testing.T) {
	book := NewBook()
	book.ApplyFill(fill(1, 1, 10, 10000))

	pos := book.ApplyFill(fill(1, 1, -4, 12000))
	assert.Equal(t, schema.Quantity(6), pos.Qty)
	assert.Equal(t, schema.Price(10000), pos.AvgCost)
}

func TestBookFlipResetsAvgCost(t *testing.T) {
	book := NewBook()
	book.ApplyFill(fill(1, 1, 10, 10000))

	pos := book.ApplyFill(fill(1, 1, -15, 12000))
	assert.Equal(t, schema.Quantity(-5), pos.Qty)
	assert.Equal(t, schema.Price(12000), pos.AvgCost)
}

func TestBookCloseToZeroRemovesPosition(t *testing.T) {
	book := NewBook()
	book.ApplyFill(fill(1, 1, 10, 10000))

	pos := book.ApplyFill(fill(1, 1, -10, 12000))
	assert.Equal(t, schema.Quantity(0), pos.Qty)
	_, ok := book.Position(1, 1)
	assert.False(t, ok)
	assert.Empty(t, book.Portfolios())
}

func TestBookShortMovingAverage(t *testing.T) {
	book := NewBook()
	book.ApplyFill(fill(1, 1, -10, 10000))

	pos := book.ApplyFill(fill(1, 1, -10, 12000))
	assert.Equal(t, schema.Quantity(-20), pos.Qty)
	assert.Equal(t, schema.Price(11000), pos.AvgCost)
}

func TestBookHoldersAndPortfolios(t *testing.T) {
	book := NewBook()
	book.ApplyFill(fill(2, 5, 1, 100))
	book.ApplyFill(fill(1, 5, 1, 100))
	book.ApplyFill(fill(1, 7, 1, 100))

	assert.Equal(t, []schema.PortfolioID{1, 2}, book.Holders(5))
	assert.Equal(t, []schema.PortfolioID{1}, book.Holders(7))
	assert.Equal(t, []schema.PortfolioID{1, 2}, book.Portfolios())
}

func TestBookSnapshotRoundTrip(t *testing.T) {
	book := NewBook()
	book.ApplyRecorded(fill(1, 1, 10, 10000), 41)
	book.ApplyRecorded(fill(2, 3, -5, 20000), 42)

	snap := book.Snapshot(99)
	assert.Equal(t, uint64(42), snap.LastSeq)
	require.Len(t, snap.Positions, 2)

	restored := NewBook()
	restored.ApplySnapshot(snap)
	pos, ok := restored.Position(1, 1)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(10), pos.Qty)
	assert.Equal(t, uint64(42), restored.LastSeq())
}

func TestBookSnapshotFile(t *testing.T) {
	book := NewBook()
	book.ApplyRecorded(fill(1, 1, 10, 10000), 7)
	snap := book.Snapshot(123)

	path := t.TempDir() + "/positions.json"
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}
