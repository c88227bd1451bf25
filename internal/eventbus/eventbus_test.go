package eventbus

import (
	"context"
	"testing"
)

type eventA struct{ n int }
type eventB struct{ s string }

func TestDispatchesByType(t *testing.T) {
	Use(New())
	defer Use(nil)

	var as []eventA
	var bs []eventB
	defer Subscribe(func(ctx context.Context, e eventA) { as = append(as, e) })()
	defer Subscribe(func(ctx context.Context, e eventB) { bs = append(bs, e) })()

	ctx := context.Background()
	Publish(ctx, eventA{n: 1})
	Publish(ctx, eventB{s: "x"})
	Publish(ctx, eventA{n: 2})

	if len(as) != 2 || as[0].n != 1 || as[1].n != 2 {
		t.Fatalf("unexpected eventA deliveries: %v", as)
	}
	if len(bs) != 1 || bs[0].s != "x" {
		t.Fatalf("unexpected eventB deliveries: %v", bs)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	Use(New())
	defer Use(nil)

	count := 0
	unsubscribe := Subscribe(func(ctx context.Context, e eventA) { count++ })
	keep := 0
	defer Subscribe(func(ctx context.Context, e eventA) { keep++ })()

	Publish(context.Background(), eventA{})
	unsubscribe()
	unsubscribe() // second call is a no-op
	Publish(context.Background(), eventA{})

	if count != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", count)
	}
	if keep != 2 {
		t.Fatalf("expected remaining handler to see both events, got %d", keep)
	}
}

func TestNoBusIsSilent(t *testing.T) {
	Use(nil)
	unsubscribe := Subscribe(func(ctx context.Context, e eventA) {
		t.Fatal("handler must not run without a bus")
	})
	Publish(context.Background(), eventA{})
	unsubscribe()
}
