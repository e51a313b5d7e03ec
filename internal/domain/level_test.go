package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestLevel(maxOrders int) *OrderBookLevel {
	return NewOrderBookLevel(10, Sell, decimal.RequireFromString("20000.05"), maxOrders)
}

func TestLevelCapacityKeepsOneSlotFree(t *testing.T) {
	level := newTestLevel(4)
	for i := 0; i < 3; i++ {
		_, disposition := level.AddOrder(OrderId(i+1), 7, big.NewInt(100), 500)
		if disposition != Accepted {
			t.Fatalf("order %d: disposition = %s, want Accepted", i+1, disposition)
		}
	}
	if _, disposition := level.AddOrder(99, 7, big.NewInt(100), 500); disposition != Rejected {
		t.Fatalf("full level accepted an order: %s", disposition)
	}
	if level.OrderCount() != 3 {
		t.Fatalf("OrderCount = %d, want 3", level.OrderCount())
	}
	if level.TotalQuantity.Int64() != 300 {
		t.Fatalf("TotalQuantity = %s, want 300", level.TotalQuantity)
	}
}

func TestLevelFillOrderFIFO(t *testing.T) {
	level := newTestLevel(8)
	level.AddOrder(1, 7, big.NewInt(100), 500)
	level.AddOrder(2, 8, big.NewInt(200), 500)
	level.AddOrder(3, 9, big.NewInt(300), 500)

	remaining, executions := level.FillOrder(big.NewInt(250), nil)
	if remaining.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", remaining)
	}
	if len(executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(executions))
	}
	if executions[0].CounterOrder.Guid != 1 || !executions[0].CounterOrderExhausted || executions[0].Amount.Int64() != 100 {
		t.Errorf("first execution wrong: %+v", executions[0])
	}
	if executions[1].CounterOrder.Guid != 2 || executions[1].CounterOrderExhausted || executions[1].Amount.Int64() != 150 {
		t.Errorf("second execution wrong: %+v", executions[1])
	}
	if executions[1].CounterOrder.Quantity.Int64() != 50 {
		t.Errorf("partial order quantity = %s, want 50", executions[1].CounterOrder.Quantity)
	}
	if level.TotalQuantity.Int64() != 350 {
		t.Errorf("TotalQuantity = %s, want 350", level.TotalQuantity)
	}
	if level.OrderCount() != 2 {
		t.Errorf("OrderCount = %d, want 2", level.OrderCount())
	}
}

func TestLevelFillOrderRunsDry(t *testing.T) {
	level := newTestLevel(4)
	level.AddOrder(1, 7, big.NewInt(100), 500)
	remaining, executions := level.FillOrder(big.NewInt(500), nil)
	if remaining.Int64() != 400 {
		t.Fatalf("remaining = %s, want 400", remaining)
	}
	if len(executions) != 1 || !executions[0].CounterOrderExhausted {
		t.Fatalf("expected single exhausting execution, got %+v", executions)
	}
	if level.OrderCount() != 0 {
		t.Fatalf("level should be empty")
	}
}

func TestLevelRemoveOrderPreservesFIFOAndPointers(t *testing.T) {
	level := newTestLevel(8)
	level.AddOrder(1, 7, big.NewInt(100), 500)
	middle, _ := level.AddOrder(2, 8, big.NewInt(200), 500)
	last, _ := level.AddOrder(3, 9, big.NewInt(300), 500)

	if !level.RemoveOrder(middle) {
		t.Fatal("RemoveOrder failed")
	}
	if level.TotalQuantity.Int64() != 400 {
		t.Fatalf("TotalQuantity = %s, want 400", level.TotalQuantity)
	}
	var guids []OrderId
	level.EachOrder(func(o *LevelOrder) { guids = append(guids, o.Guid) })
	if len(guids) != 2 || guids[0] != 1 || guids[1] != 3 {
		t.Fatalf("FIFO order after removal = %v, want [1 3]", guids)
	}
	// The surviving order pointer must still be live after the shift.
	if last.Guid != 3 || last.Quantity.Int64() != 300 {
		t.Fatalf("pointer to surviving order went stale: %+v", last)
	}
	if level.RemoveOrder(middle) {
		t.Fatal("removing an absent order should fail")
	}
}

func TestLevelEqualIgnoresPhysicalSlots(t *testing.T) {
	a := newTestLevel(4)
	b := newTestLevel(4)
	// Rotate b's ring before adding so head positions differ.
	filler, _ := b.AddOrder(99, 1, big.NewInt(1), 0)
	b.FillOrder(big.NewInt(1), nil)
	_ = filler

	a.AddOrder(1, 7, big.NewInt(100), 500)
	a.AddOrder(2, 8, big.NewInt(200), 500)
	b.AddOrder(1, 7, big.NewInt(100), 500)
	b.AddOrder(2, 8, big.NewInt(200), 500)

	if !a.Equal(b) {
		t.Fatal("levels with the same FIFO content must be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("equal levels must hash equal")
	}
	b.FillOrder(big.NewInt(50), nil)
	if a.Equal(b) {
		t.Fatal("levels with different quantities must differ")
	}
}
