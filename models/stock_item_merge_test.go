package models_test

import (
	"testing"

	"github.com/mmdatafocus/tallysync_backend/models"
)

func TestMergeStockItemPreservesReorderLevel(t *testing.T) {
	existing := &models.StockItem{ID: 7, TallyName: "Widget", ReorderLevel: 10}
	incoming := models.StockItem{TallyName: "Widget", ClosingQty: 5, ClosingValue: 125, Rate: 25}

	merged := models.MergeStockItem(existing, incoming)
	if merged.ID != 7 {
		t.Fatalf("merged row must carry the existing ID; got %d", merged.ID)
	}
	if merged.ReorderLevel != 10 {
		t.Fatalf("positive reorder level must survive a sync; got %v", merged.ReorderLevel)
	}
	if !merged.IsLowStock {
		t.Fatalf("qty 5 <= threshold 10 must flag low stock")
	}
	if merged.ClosingQty != 5 || merged.ClosingValue != 125 || merged.Rate != 25 {
		t.Fatalf("remote-owned fields must take incoming values: %+v", merged)
	}
}

func TestMergeStockItemIdempotent(t *testing.T) {
	existing := &models.StockItem{ID: 7, TallyName: "Widget", ReorderLevel: 10}
	incoming := models.StockItem{TallyName: "Widget", ClosingQty: 5}

	first := models.MergeStockItem(existing, incoming)
	second := models.MergeStockItem(&first, incoming)
	if first != second {
		t.Fatalf("re-merging identical input changed the row:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMergeStockItemNoThreshold(t *testing.T) {
	existing := &models.StockItem{ID: 3, TallyName: "Gadget"}
	incoming := models.StockItem{TallyName: "Gadget", ClosingQty: 0}

	merged := models.MergeStockItem(existing, incoming)
	if merged.IsLowStock {
		t.Fatalf("zero threshold must never flag low stock")
	}
	if merged.ReorderLevel != 0 {
		t.Fatalf("reorder level: %v", merged.ReorderLevel)
	}
}

func TestMergeStockItemNewRow(t *testing.T) {
	incoming := models.StockItem{TallyName: "Fresh", ClosingQty: 2, ReorderLevel: 4}
	merged := models.MergeStockItem(nil, incoming)
	if merged.ID != 0 {
		t.Fatalf("new row must not carry an ID: %d", merged.ID)
	}
	if merged.ReorderLevel != 4 || !merged.IsLowStock {
		t.Fatalf("incoming threshold applies to new rows: %+v", merged)
	}
}

func TestMergeStockItemRecoversAboveThreshold(t *testing.T) {
	existing := &models.StockItem{ID: 1, TallyName: "Widget", ReorderLevel: 10, IsLowStock: true}
	incoming := models.StockItem{TallyName: "Widget", ClosingQty: 50}
	merged := models.MergeStockItem(existing, incoming)
	if merged.IsLowStock {
		t.Fatalf("qty above threshold must clear the flag")
	}
}
