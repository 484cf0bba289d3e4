package economy

import "testing"

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger(10)

	// First sight seeds the balance.
	if ok, _ := l.CanAfford("a1", 10); !ok {
		t.Fatalf("seed balance missing")
	}
	if ok, _ := l.CanAfford("a1", 11); ok {
		t.Fatalf("afford beyond balance")
	}

	if ok, _ := l.CheckAndDebit("a1", 7); !ok {
		t.Fatalf("debit refused")
	}
	if b := l.Balance("a1"); b != 3 {
		t.Fatalf("balance: %d", b)
	}

	// A refused debit changes nothing and is not an error.
	ok, err := l.CheckAndDebit("a1", 4)
	if ok || err != nil {
		t.Fatalf("overdraft: ok=%v err=%v", ok, err)
	}
	if b := l.Balance("a1"); b != 3 {
		t.Fatalf("balance after refusal: %d", b)
	}

	l.SetBalance("a1", 50)
	if b := l.Balance("a1"); b != 50 {
		t.Fatalf("set balance: %d", b)
	}
}
