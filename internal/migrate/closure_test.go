package migrate

import (
	"reflect"
	"testing"
)

// chain: orders (oid 1) <- v_orders (2) <- v_orders_enriched (3)
func chainClosure() *closure {
	return &closure{
		base: relation{OID: 1, Schema: "quant", Name: "orders", Kind: KindTable},
		nodes: map[int64]relation{
			1: {OID: 1, Schema: "quant", Name: "orders", Kind: KindTable},
			2: {OID: 2, Schema: "quant", Name: "v_orders", Kind: KindView},
			3: {OID: 3, Schema: "quant", Name: "v_orders_enriched", Kind: KindView},
		},
		children: map[int64][]int64{1: {2}, 2: {3}},
	}
}

func names(rels []relation) []string {
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = r.Name
	}
	return out
}

func TestDropOrder_Chain(t *testing.T) {
	got := names(chainClosure().dropOrder())
	want := []string{"v_orders_enriched", "v_orders"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dropOrder = %v, want %v (deepest dependent first)", got, want)
	}
}

func TestDropOrder_Diamond(t *testing.T) {
	// base (1) <- v_a (2), v_b (3); v_top (4) depends on both.
	cl := &closure{
		base: relation{OID: 1, Name: "base", Kind: KindTable},
		nodes: map[int64]relation{
			1: {OID: 1, Name: "base", Kind: KindTable},
			2: {OID: 2, Name: "v_a", Kind: KindView},
			3: {OID: 3, Name: "v_b", Kind: KindView},
			4: {OID: 4, Name: "v_top", Kind: KindView},
		},
		children: map[int64][]int64{1: {2, 3}, 2: {4}, 3: {4}},
	}

	order := cl.dropOrder()
	if len(order) != 3 {
		t.Fatalf("each view must appear exactly once, got %v", names(order))
	}
	pos := map[string]int{}
	for i, r := range order {
		pos[r.Name] = i
	}
	if pos["v_top"] > pos["v_a"] || pos["v_top"] > pos["v_b"] {
		t.Errorf("v_top must drop before what it depends on: %v", names(order))
	}
}

func TestDropOrder_ExcludesBaseAndMatviews(t *testing.T) {
	cl := chainClosure()
	cl.nodes[3] = relation{OID: 3, Schema: "quant", Name: "mv_orders", Kind: KindMatView}

	got := names(cl.dropOrder())
	want := []string{"v_orders"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dropOrder must collect plain views only, got %v", got)
	}
}

func TestFirstMatView(t *testing.T) {
	cl := chainClosure()
	if mv := cl.firstMatView(); mv != nil {
		t.Errorf("no matview expected, got %v", mv.Name)
	}

	cl.nodes[3] = relation{OID: 3, Schema: "quant", Name: "mv_orders", Kind: KindMatView}
	mv := cl.firstMatView()
	if mv == nil || mv.Name != "mv_orders" {
		t.Errorf("expected mv_orders, got %+v", mv)
	}
}
