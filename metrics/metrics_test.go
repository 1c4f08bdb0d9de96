package metrics

import "testing"

func TestRegisterIncAndGet(t *testing.T) {
	c := Register("test_counter_inc", "test counter")
	c.Inc(3)
	c.Inc(2)
	if got := c.Get(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestRegisterSet(t *testing.T) {
	c := Register("test_counter_set", "test counter")
	c.Set(42)
	if got := c.Get(); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	Register("test_counter_dup", "test counter")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("test_counter_dup", "test counter")
}
