package bus

import (
	"testing"
)

func TestScopeMatching(t *testing.T) {
	cases := []struct {
		name  string
		sub   Scope
		event Scope
		want  bool
	}{
		{"global matches flow event", Global(), ForFlow("f1"), true},
		{"global matches step event", Global(), ForStep("f1", "s1"), true},
		{"flow matches own flow", ForFlow("f1"), ForFlow("f1"), true},
		{"flow matches own step", ForFlow("f1"), ForStep("f1", "s1"), true},
		{"flow ignores other flow", ForFlow("f1"), ForFlow("f2"), false},
		{"step matches exact step", ForStep("f1", "s1"), ForStep("f1", "s1"), true},
		{"step ignores sibling step", ForStep("f1", "s1"), ForStep("f1", "s2"), false},
		{"step ignores flow-level event", ForStep("f1", "s1"), ForFlow("f1"), false},
	}
	for _, c := range cases {
		if got := c.sub.Matches(c.event); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestPublishInvokesInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(Global(), func(interface{}) { order = append(order, 1) })
	b.Subscribe(Global(), func(interface{}) { order = append(order, 2) })
	b.Subscribe(Global(), func(interface{}) { order = append(order, 3) })

	b.Publish(ForFlow("f1"), nil)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected registration order, got %v", order)
	}
}

func TestStepScopedExactness(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(ForStep("f1", "s1"), func(interface{}) { calls++ })

	b.Publish(ForStep("f1", "s1"), nil)
	b.Publish(ForStep("f1", "s2"), nil)
	b.Publish(ForStep("f2", "s1"), nil)
	b.Publish(ForFlow("f1"), nil)

	if calls != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	token := b.Subscribe(Global(), func(interface{}) { calls++ })

	b.Publish(ForFlow("f1"), nil)
	if !b.Unsubscribe(token) {
		t.Fatal("expected unsubscribe to succeed")
	}
	b.Publish(ForFlow("f1"), nil)

	if calls != 1 {
		t.Errorf("expected 1 invocation, got %d", calls)
	}
	if b.Unsubscribe(token) {
		t.Error("double unsubscribe should report false")
	}
}

func TestUnsubscribeHandlerRemovesByIdentity(t *testing.T) {
	b := New()
	calls := 0
	handler := func(interface{}) { calls++ }
	b.Subscribe(Global(), handler)
	b.Subscribe(ForFlow("f1"), handler)

	if n := b.UnsubscribeHandler(handler); n != 2 {
		t.Fatalf("expected 2 removals, got %d", n)
	}
	b.Publish(ForFlow("f1"), nil)
	if calls != 0 {
		t.Errorf("expected no invocations after removal, got %d", calls)
	}
}

func TestUnsubscribePrunesRegistry(t *testing.T) {
	b := New()
	handler := func(interface{}) {}
	for i := 0; i < 1000; i++ {
		tok := b.Subscribe(ForFlow("f1"), func(interface{}) {})
		b.Subscribe(Global(), handler)
		b.Unsubscribe(tok)
		b.UnsubscribeHandler(handler)
	}

	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	if n != 0 {
		t.Errorf("expected registry emptied after churn, got %d entries", n)
	}
}

func TestUnsubscribeDuringPassSuppressesLaterInvocation(t *testing.T) {
	b := New()
	secondCalls := 0
	var secondToken Token
	b.Subscribe(Global(), func(interface{}) {
		b.Unsubscribe(secondToken)
	})
	secondToken = b.Subscribe(Global(), func(interface{}) { secondCalls++ })

	b.Publish(ForFlow("f1"), nil)
	if secondCalls != 0 {
		t.Errorf("handler unsubscribed mid-pass must not run, got %d calls", secondCalls)
	}
}

func TestSubscribeDuringPassNotRetroactivelyInvoked(t *testing.T) {
	b := New()
	lateCalls := 0
	b.Subscribe(Global(), func(interface{}) {
		b.Subscribe(Global(), func(interface{}) { lateCalls++ })
	})

	b.Publish(ForFlow("f1"), nil)
	if lateCalls != 0 {
		t.Errorf("handler added mid-pass must not run in that pass, got %d", lateCalls)
	}
	b.Publish(ForFlow("f1"), nil)
	if lateCalls != 1 {
		t.Errorf("handler added during previous pass should now run once, got %d", lateCalls)
	}
}

func TestPublishPassesPayload(t *testing.T) {
	b := New()
	var got interface{}
	b.Subscribe(ForFlow("f1"), func(payload interface{}) { got = payload })

	b.Publish(ForFlow("f1"), "flow-payload")
	if got != "flow-payload" {
		t.Errorf("expected payload delivered, got %v", got)
	}
}

func TestResetRemovesAll(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(Global(), func(interface{}) { calls++ })
	b.Reset()
	b.Publish(ForFlow("f1"), nil)
	if calls != 0 {
		t.Errorf("expected no invocations after reset, got %d", calls)
	}
}
