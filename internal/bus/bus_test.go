package bus

import "testing"

func TestControlBusResponseConsumesOnce(t *testing.T) {
	var c ControlBus
	c.SetResponse(true)
	if !c.Response() {
		t.Fatal("first Response() should report true")
	}
	if c.Response() {
		t.Fatal("second Response() should report false; it was not reset")
	}
}

func TestControlBusPeekResponseDoesNotConsume(t *testing.T) {
	var c ControlBus
	c.SetResponse(true)
	if !c.PeekResponse() {
		t.Fatal("PeekResponse should report true")
	}
	if !c.PeekResponse() {
		t.Fatal("PeekResponse should not consume the response")
	}
}

func TestInterruptBusIsASetNotBitmask(t *testing.T) {
	b := NewInterruptBus()
	b.Set(1)
	b.Set(2)
	if b.Test(3) {
		t.Fatal("interrupt 3 must not appear just because 1 and 2 are both set")
	}
	b.Set(3)
	if !b.Test(3) {
		t.Fatal("interrupt 3 should be set once Set(3) is called directly")
	}
}

func TestInterruptBusAwaitingReturnsLowestPending(t *testing.T) {
	b := NewInterruptBus()
	b.Set(5)
	b.Set(2)
	b.Set(9)
	n, ok := b.Awaiting()
	if !ok || n != 2 {
		t.Fatalf("Awaiting() = %d, %v; want 2, true", n, ok)
	}
}

func TestInterruptBusAwaitingEmpty(t *testing.T) {
	b := NewInterruptBus()
	if _, ok := b.Awaiting(); ok {
		t.Fatal("Awaiting() on an empty bus should report false")
	}
}

func TestInterruptBusClear(t *testing.T) {
	b := NewInterruptBus()
	b.Set(Halt)
	b.Clear(Halt)
	if b.Test(Halt) {
		t.Fatal("Clear should remove the interrupt")
	}
}

func BenchmarkControlBusLockUnlock(b *testing.B) {
	var c ControlBus
	for i := 0; i < b.N; i++ {
		c.Lock()
		c.Unlock()
	}
}
