package supplychain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"agrichain/native/params"
)

func processed(t *testing.T, h *harness, slices uint64) uint64 {
	t.Helper()
	code := h.toDistributor(params.Milli(100))
	require.NoError(t, h.sc.ProcessedByDistributor(distributor, code, slices))
	return code
}

func TestSellSlicesKeepsCountsConsistent(t *testing.T) {
	h := newHarness(t)
	parent := processed(t, h, 10)

	child, err := h.sc.SellSlicesToRetailer(distributor, parent, 4, params.Milli(10))
	require.NoError(t, err)
	require.NotEqual(t, parent, child)

	p := h.item(parent)
	require.Equal(t, uint64(10), p.ProductSliced)
	require.Equal(t, uint64(6), p.SlicesRemaining)
	require.Equal(t, uint64(4), p.SlicesSold)
	require.Equal(t, p.ProductSliced, p.SlicesRemaining+p.SlicesSold)

	c := h.item(child)
	require.Equal(t, ForSaleByDistributor, c.ItemState)
	require.Equal(t, parent, c.ParentProduct)
	require.Equal(t, uint64(4), c.ProductSliced)
	require.Equal(t, 0, c.ProductPrice.Cmp(params.Milli(40)))
	require.Equal(t, farmer, c.FarmerID)
	require.Equal(t, distributor, c.OwnerID)
}

func TestSellSlicesTopsUpOpenBatch(t *testing.T) {
	h := newHarness(t)
	parent := processed(t, h, 10)

	first, err := h.sc.SellSlicesToRetailer(distributor, parent, 3, params.Milli(10))
	require.NoError(t, err)
	second, err := h.sc.SellSlicesToRetailer(distributor, parent, 2, params.Milli(10))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, uint64(5), h.item(first).ProductSliced)
	require.Equal(t, 0, h.item(first).ProductPrice.Cmp(params.Milli(50)))

	// once the open batch is bought the next sale starts a new one
	_, err = h.sc.PurchaseByRetailer(retailer, params.Milli(50), first)
	require.NoError(t, err)
	third, err := h.sc.SellSlicesToRetailer(distributor, parent, 5, params.Milli(10))
	require.NoError(t, err)
	require.NotEqual(t, first, third)

	p := h.item(parent)
	require.Zero(t, p.SlicesRemaining)
	require.Equal(t, uint64(10), p.SlicesSold)
	_, err = h.sc.SellSlicesToRetailer(distributor, parent, 1, params.Milli(10))
	require.ErrorIs(t, err, ErrNotEnoughSlices)
}

func TestSellSlicesValidation(t *testing.T) {
	h := newHarness(t)
	parent := processed(t, h, 5)

	_, err := h.sc.SellSlicesToRetailer(distributor, parent, 6, params.Milli(10))
	require.ErrorIs(t, err, ErrNotEnoughSlices)
	_, err = h.sc.SellSlicesToRetailer(distributor, parent, 0, params.Milli(10))
	require.ErrorIs(t, err, ErrInvalidSlices)
	_, err = h.sc.SellSlicesToRetailer(distributor, parent, 1, params.Milli(0))
	require.ErrorIs(t, err, ErrInvalidPrice)
	_, err = h.sc.SellSlicesToRetailer(retailer, parent, 1, params.Milli(10))
	require.Error(t, err)

	unprocessed := h.toDistributor(params.Milli(100))
	_, err = h.sc.SellSlicesToRetailer(distributor, unprocessed, 1, params.Milli(10))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSoldSlicesBlockWholeSale(t *testing.T) {
	h := newHarness(t)
	parent := processed(t, h, 10)
	require.NoError(t, h.sc.PackageByDistributor(distributor, parent))

	_, err := h.sc.SellSlicesToRetailer(distributor, parent, 2, params.Milli(10))
	require.NoError(t, err)
	err = h.sc.SellByDistributor(distributor, parent, params.Milli(200))
	require.ErrorIs(t, err, ErrSlicesSold)
	h.expectState(parent, PackagedByDistributor)
}

func TestProcessRejectsZeroSlices(t *testing.T) {
	h := newHarness(t)
	code := h.toDistributor(params.Milli(100))
	if err := h.sc.ProcessedByDistributor(distributor, code, 0); !errors.Is(err, ErrInvalidSlices) {
		t.Fatalf("expected invalid slices, got %v", err)
	}
	h.expectState(code, ReceivedByDistributor)
}
