package live

import "testing"

func TestTurnCompleteFlushesUserThenModel(t *testing.T) {
	a := NewTurnAggregator(nil)
	a.OnOutputDelta("Hi ")
	a.OnInputDelta("hello")
	a.OnOutputDelta("there")
	a.OnInputDelta(" world")

	flushed := a.OnTurnComplete()
	want := []TurnEntry{
		{Role: RoleUser, Text: "hello world"},
		{Role: RoleModel, Text: "Hi there"},
	}
	if len(flushed) != len(want) {
		t.Fatalf("flushed = %+v", flushed)
	}
	for i := range want {
		if flushed[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, flushed[i], want[i])
		}
	}
	if in, out := a.Pending(); in != "" || out != "" {
		t.Fatalf("pending not cleared: %q %q", in, out)
	}
}

func TestTurnCompleteSilentTurn(t *testing.T) {
	a := NewTurnAggregator(nil)
	a.OnInputDelta("   ")
	if got := a.OnTurnComplete(); len(got) != 0 {
		t.Fatalf("silent turn flushed %+v", got)
	}
	if len(a.Log()) != 0 {
		t.Fatalf("log = %+v", a.Log())
	}
}

func TestTurnCompleteOneSided(t *testing.T) {
	a := NewTurnAggregator(nil)
	a.OnOutputDelta("only me")
	got := a.OnTurnComplete()
	if len(got) != 1 || got[0].Role != RoleModel {
		t.Fatalf("flushed = %+v", got)
	}
}

func TestOutputDeltaAfterFlushStartsFresh(t *testing.T) {
	a := NewTurnAggregator(nil)
	a.OnOutputDelta("first")
	a.OnTurnComplete()

	a.OnOutputDelta("second")
	a.OnOutputDelta(" reply")
	a.OnInputDelta("a")
	a.OnInputDelta("b")
	if in, out := a.Pending(); out != "second reply" || in != "ab" {
		t.Fatalf("pending = %q %q", in, out)
	}
}

func TestTurnSeedAndReset(t *testing.T) {
	a := NewTurnAggregator(NewMetrics("test"))
	a.Seed(TurnEntry{Role: RoleModel, Text: "Welcome"})
	a.OnInputDelta("hi")
	a.OnTurnComplete()

	log := a.Log()
	if len(log) != 2 || log[0].Text != "Welcome" || log[1].Text != "hi" {
		t.Fatalf("log = %+v", log)
	}
	log[0].Text = "mutated"
	if a.Log()[0].Text != "Welcome" {
		t.Fatalf("Log returned shared storage")
	}

	a.OnInputDelta("pending")
	a.ClearPending()
	if in, _ := a.Pending(); in != "" {
		t.Fatalf("ClearPending left %q", in)
	}
	if len(a.Log()) != 2 {
		t.Fatalf("ClearPending touched the log")
	}

	a.Reset()
	if len(a.Log()) != 0 {
		t.Fatalf("Reset left %d entries", len(a.Log()))
	}
}
