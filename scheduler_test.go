package podflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testRegistry returns a registry with small arithmetic and echo capabilities
// used across scheduler tests.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	defs := []Definition{
		{
			Name: "echo",
			Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
				return in["value"], nil
			},
		},
		{
			Name: "double",
			Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
				n, ok := in["value"].(int)
				if !ok {
					return nil, fmt.Errorf("value is not an int: %v", in["value"])
				}
				return n * 2, nil
			},
		},
		{
			Name: "fail",
			Fn: func(_ context.Context, _ Inputs, _ Params) (any, error) {
				return nil, errors.New("deliberate failure")
			},
		},
		{
			Name: "concat",
			Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
				var out string
				for _, s := range in.Strings("parts") {
					out += s
				}
				return out, nil
			},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	return reg
}

func mustScheduler(t *testing.T, spec *GraphSpec, reg *Registry, opts Options) *Scheduler {
	t.Helper()
	s, err := NewScheduler(spec, reg, opts)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestRunLinearGraph(t *testing.T) {
	spec := &GraphSpec{
		Name: "linear",
		Nodes: map[string]NodeSpec{
			"source": {Value: &ValueSpec{}},
			"twice": {
				Agent:  "double",
				Inputs: map[string]InputBinding{"value": Ref("source")},
			},
			"final": {
				Agent:    "double",
				Inputs:   map[string]InputBinding{"value": Ref("twice")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	if err := s.Inject("source", 3); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := bag["final"]; got != 12 {
		t.Errorf("final = %v, want 12", got)
	}
	if _, ok := bag["twice"]; ok {
		t.Error("non-result node leaked into the result bag")
	}
}

func TestValueNodeDefault(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"n": {Value: &ValueSpec{Default: 5}},
			"out": {
				Agent:    "double",
				Inputs:   map[string]InputBinding{"value": Ref("n")},
				IsResult: true,
			},
		},
	}

	t.Run("default applies", func(t *testing.T) {
		s := mustScheduler(t, spec, testRegistry(t), Options{})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if bag["out"] != 10 {
			t.Errorf("out = %v, want 10", bag["out"])
		}
	})

	t.Run("injection overrides default", func(t *testing.T) {
		s := mustScheduler(t, spec, testRegistry(t), Options{})
		if err := s.Inject("n", 7); err != nil {
			t.Fatalf("Inject: %v", err)
		}
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if bag["out"] != 14 {
			t.Errorf("out = %v, want 14", bag["out"])
		}
	})
}

func TestUninjectedValueSkipsConsumers(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"absent": {Value: &ValueSpec{}},
			"consumer": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Ref("absent")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := bag["consumer"]; ok {
		t.Error("consumer of an absent value should be skipped, not in the bag")
	}
	if got := s.Status("consumer"); got != StatusSkipped {
		t.Errorf("consumer status = %s, want %s", got, StatusSkipped)
	}
}

func TestActivationConditions(t *testing.T) {
	build := func(flagVal any) *GraphSpec {
		return &GraphSpec{
			Nodes: map[string]NodeSpec{
				"flag": {Value: &ValueSpec{Default: flagVal}},
				"whenTrue": {
					Agent:    "echo",
					If:       "flag",
					Inputs:   map[string]InputBinding{"value": Lit("yes")},
					IsResult: true,
				},
				"whenFalse": {
					Agent:    "echo",
					Unless:   "flag",
					Inputs:   map[string]InputBinding{"value": Lit("no")},
					IsResult: true,
				},
			},
		}
	}

	tests := []struct {
		name string
		flag any
		want string
	}{
		{"truthy flag runs if branch", true, "yes"},
		{"falsy flag runs unless branch", false, "no"},
		{"empty slice is falsy", []any{}, "no"},
		{"non-empty string is truthy", "x", "yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustScheduler(t, build(tt.flag), testRegistry(t), Options{})
			bag, err := s.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(bag) != 1 {
				t.Fatalf("bag has %d entries, want exactly 1: %v", len(bag), bag)
			}
			for _, v := range bag {
				if v != tt.want {
					t.Errorf("branch output = %v, want %q", v, tt.want)
				}
			}
		})
	}
}

func TestConditionOnDottedPath(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"verdict": {Value: &ValueSpec{Default: map[string]any{"useFeeds": true}}},
			"feeds": {
				Agent:    "echo",
				If:       "verdict.useFeeds",
				Inputs:   map[string]InputBinding{"value": Lit("feeds")},
				IsResult: true,
			},
			"search": {
				Agent:    "echo",
				Unless:   "verdict.useFeeds",
				Inputs:   map[string]InputBinding{"value": Lit("search")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bag["feeds"] != "feeds" {
		t.Errorf("feeds = %v, want to run", bag["feeds"])
	}
	if _, ok := bag["search"]; ok {
		t.Error("search branch should be gated off")
	}
}

func TestSkipPropagatesThroughConditionChain(t *testing.T) {
	// gate is falsy, so mid skips; late references mid and must skip too,
	// even though late itself declares no condition.
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"gate": {Value: &ValueSpec{Default: false}},
			"mid": {
				Agent:  "echo",
				If:     "gate",
				Inputs: map[string]InputBinding{"value": Lit(1)},
			},
			"late": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Ref("mid")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bag) != 0 {
		t.Errorf("bag = %v, want empty", bag)
	}
	if got := s.Status("late"); got != StatusSkipped {
		t.Errorf("late status = %s, want %s", got, StatusSkipped)
	}
}

func TestAnyInput(t *testing.T) {
	t.Run("runs on first resolved reference", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"a": {Value: &ValueSpec{}},
				"b": {Value: &ValueSpec{Default: "from-b"}},
				"pick": {
					Agent:    "echo",
					AnyInput: true,
					Inputs:   map[string]InputBinding{"value": Refs("a", "b")},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		vals, ok := bag["pick"].([]any)
		if !ok || len(vals) != 1 || vals[0] != "from-b" {
			t.Errorf("pick = %v, want [from-b] with the unresolved ref dropped", bag["pick"])
		}
	})

	t.Run("skips when nothing resolves", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"a": {Value: &ValueSpec{}},
				"b": {Value: &ValueSpec{}},
				"pick": {
					Agent:    "echo",
					AnyInput: true,
					Inputs:   map[string]InputBinding{"value": Refs("a", "b")},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if _, ok := bag["pick"]; ok {
			t.Error("pick should skip when no reference resolves")
		}
	})

	t.Run("tolerates a failed reference", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"broken": {Agent: "fail"},
				"ok":     {Value: &ValueSpec{Default: "alive"}},
				"pick": {
					Agent:    "echo",
					AnyInput: true,
					Inputs:   map[string]InputBinding{"value": Refs("broken", "ok")},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		vals, _ := bag["pick"].([]any)
		if len(vals) != 1 || vals[0] != "alive" {
			t.Errorf("pick = %v, want [alive]", bag["pick"])
		}
		if len(s.Errors()) != 1 {
			t.Errorf("Errors() = %v, want the tolerated failure recorded", s.Errors())
		}
	})
}

func TestFailurePropagation(t *testing.T) {
	t.Run("failure reaching a result node aborts", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"broken": {Agent: "fail"},
				"out": {
					Agent:    "echo",
					Inputs:   map[string]InputBinding{"value": Ref("broken")},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		_, err := s.Run(context.Background())
		if err == nil {
			t.Fatal("Run should fail when the failure reaches a result node")
		}
		if got := s.Status("out"); got != StatusFailed {
			t.Errorf("out status = %s, want %s", got, StatusFailed)
		}
	})

	t.Run("failure on a dead branch is tolerated", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"broken": {Agent: "fail"},
				"ok": {
					Agent:    "echo",
					Inputs:   map[string]InputBinding{"value": Lit("fine")},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if bag["ok"] != "fine" {
			t.Errorf("ok = %v, want fine", bag["ok"])
		}
		errs := s.Errors()
		if len(errs) != 1 || errs[0].NodeID != "broken" {
			t.Errorf("Errors() = %v, want one record for broken", errs)
		}
	})

	t.Run("failed condition head fails the gated node", func(t *testing.T) {
		spec := &GraphSpec{
			Nodes: map[string]NodeSpec{
				"broken": {Agent: "fail"},
				"gated": {
					Agent:    "echo",
					If:       "broken",
					Inputs:   map[string]InputBinding{"value": Lit(1)},
					IsResult: true,
				},
			},
		}

		s := mustScheduler(t, spec, testRegistry(t), Options{})
		if _, err := s.Run(context.Background()); err == nil {
			t.Fatal("Run should fail: the gated result node inherits the failure")
		}
		if got := s.Status("gated"); got != StatusFailed {
			t.Errorf("gated status = %s, want %s", got, StatusFailed)
		}
	})
}

func TestInjectErrors(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"v": {Value: &ValueSpec{}},
			"c": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Ref("v")},
				IsResult: true,
			},
		},
	}

	t.Run("unknown node", func(t *testing.T) {
		s := mustScheduler(t, spec, testRegistry(t), Options{})
		if err := s.Inject("nope", 1); !errors.Is(err, ErrUnknownReference) {
			t.Errorf("err = %v, want ErrUnknownReference", err)
		}
	})

	t.Run("non-value node", func(t *testing.T) {
		s := mustScheduler(t, spec, testRegistry(t), Options{})
		if err := s.Inject("c", 1); !errors.Is(err, ErrNotValueNode) {
			t.Errorf("err = %v, want ErrNotValueNode", err)
		}
	})

	t.Run("after run started", func(t *testing.T) {
		s := mustScheduler(t, spec, testRegistry(t), Options{})
		if err := s.Inject("v", 1); err != nil {
			t.Fatalf("Inject: %v", err)
		}
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if err := s.Inject("v", 2); !errors.Is(err, ErrInjectAfterRun) {
			t.Errorf("err = %v, want ErrInjectAfterRun", err)
		}
	})
}

func TestMapFanOut(t *testing.T) {
	elementGraph := GraphSpec{
		Nodes: map[string]NodeSpec{
			"row": {Value: &ValueSpec{}},
			"double": {
				Agent:    "double",
				Inputs:   map[string]InputBinding{"value": Ref("row")},
				IsResult: true,
			},
		},
	}

	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map:      &MapSpec{Graph: elementGraph, Concurrency: 4},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	if err := s.Inject("rows", []any{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results, ok := bag["fan"].([]any)
	if !ok || len(results) != 5 {
		t.Fatalf("fan = %v, want 5 element results", bag["fan"])
	}
	for i, r := range results {
		elem, ok := r.(map[string]any)
		if !ok {
			t.Fatalf("element %d is %T, want map", i, r)
		}
		if want := (i + 1) * 2; elem["double"] != want {
			t.Errorf("element %d = %v, want %d", i, elem["double"], want)
		}
	}
}

func TestMapPreservesOrderUnderSkew(t *testing.T) {
	reg := testRegistry(t)
	// Earlier elements sleep longer, so completion order reverses input
	// order if results were appended naively.
	err := reg.Register(Definition{
		Name: "slowEcho",
		Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
			n := in["value"].(int)
			time.Sleep(time.Duration(50-10*n) * time.Millisecond)
			return n, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	elementGraph := GraphSpec{
		Nodes: map[string]NodeSpec{
			"row": {Value: &ValueSpec{}},
			"out": {
				Agent:    "slowEcho",
				Inputs:   map[string]InputBinding{"value": Ref("row")},
				IsResult: true,
			},
		},
	}
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map:      &MapSpec{Graph: elementGraph, Concurrency: 4},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, reg, Options{})
	if err := s.Inject("rows", []any{0, 1, 2, 3}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := bag["fan"].([]any)
	for i, r := range results {
		if got := r.(map[string]any)["out"]; got != i {
			t.Errorf("results[%d] = %v, want %d", i, got, i)
		}
	}
}

func TestMapConcurrencyCap(t *testing.T) {
	var inFlight, maxSeen int64

	reg := testRegistry(t)
	err := reg.Register(Definition{
		Name: "track",
		Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return in["value"], nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	elementGraph := GraphSpec{
		Nodes: map[string]NodeSpec{
			"row": {Value: &ValueSpec{}},
			"out": {
				Agent:    "track",
				Inputs:   map[string]InputBinding{"value": Ref("row")},
				IsResult: true,
			},
		},
	}
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map:      &MapSpec{Graph: elementGraph, Concurrency: 2},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, reg, Options{})
	if err := s.Inject("rows", []any{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt64(&maxSeen); got > 2 {
		t.Errorf("max in-flight = %d, want at most 2", got)
	}
}

func TestMapElementFailure(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(Definition{
		Name: "failOdd",
		Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
			n := in["value"].(int)
			if n%2 == 1 {
				return nil, fmt.Errorf("odd input %d", n)
			}
			return n, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	elementGraph := GraphSpec{
		Nodes: map[string]NodeSpec{
			"row": {Value: &ValueSpec{}},
			"out": {
				Agent:    "failOdd",
				Inputs:   map[string]InputBinding{"value": Ref("row")},
				IsResult: true,
			},
		},
	}
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map:      &MapSpec{Graph: elementGraph, Concurrency: 2},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, reg, Options{})
	if err := s.Inject("rows", []any{0, 1, 2}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	_, runErr := s.Run(context.Background())
	if runErr == nil {
		t.Fatal("Run should fail when a map element fails")
	}

	var sawIndexed bool
	for _, ne := range s.Errors() {
		if ne.NodeID == "fan[1]" || ne.NodeID == "fan[1].out" {
			sawIndexed = true
		}
	}
	if !sawIndexed {
		t.Errorf("Errors() = %v, want an entry attributed to element 1", s.Errors())
	}
}

func TestMapRejectsNonSliceCollection(t *testing.T) {
	elementGraph := GraphSpec{
		Nodes: map[string]NodeSpec{
			"row": {Value: &ValueSpec{}},
			"out": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Ref("row")},
				IsResult: true,
			},
		},
	}
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map:      &MapSpec{Graph: elementGraph},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{})
	if err := s.Inject("rows", "not a slice"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("Run should fail for a non-slice collection")
	}
}

func TestSubgraph(t *testing.T) {
	child := &GraphSpec{
		Name: "child",
		Nodes: map[string]NodeSpec{
			"seed": {Value: &ValueSpec{}},
			"inner": {
				Agent:    "double",
				Inputs:   map[string]InputBinding{"value": Ref("seed")},
				IsResult: true,
			},
		},
	}
	spec := &GraphSpec{
		Name: "parent",
		Nodes: map[string]NodeSpec{
			"n": {Value: &ValueSpec{}},
			"sub": {
				Graph:  child,
				Inputs: map[string]InputBinding{"seed": Ref("n")},
			},
			"after": {
				Agent:    "double",
				Inputs:   map[string]InputBinding{"value": Ref("sub.inner")},
				IsResult: true,
			},
		},
	}

	var mu sync.Mutex
	var nodeIDs []string
	opts := Options{EventHandler: func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.NodeID != "" {
			nodeIDs = append(nodeIDs, e.NodeID)
		}
	}}

	s := mustScheduler(t, spec, testRegistry(t), opts)
	if err := s.Inject("n", 5); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	bag, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bag["after"] != 20 {
		t.Errorf("after = %v, want 20 (5 doubled in the child, doubled again)", bag["after"])
	}

	mu.Lock()
	defer mu.Unlock()
	var sawPrefixed bool
	for _, id := range nodeIDs {
		if id == "sub.inner" {
			sawPrefixed = true
		}
	}
	if !sawPrefixed {
		t.Errorf("event node IDs %v, want nested events prefixed with sub.", nodeIDs)
	}
}

func TestGraphConcurrencyCap(t *testing.T) {
	var inFlight, maxSeen int64

	reg := NewRegistry()
	err := reg.Register(Definition{
		Name: "track",
		Fn: func(_ context.Context, _ Inputs, _ Params) (any, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				prev := atomic.LoadInt64(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	nodes := map[string]NodeSpec{}
	for i := 0; i < 6; i++ {
		nodes[fmt.Sprintf("n%d", i)] = NodeSpec{Agent: "track", IsResult: true}
	}
	spec := &GraphSpec{Concurrency: 2, Nodes: nodes}

	s := mustScheduler(t, spec, reg, Options{})
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt64(&maxSeen); got > 2 {
		t.Errorf("max in-flight = %d, want at most 2", got)
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	spec := &GraphSpec{
		Name: "evented",
		Nodes: map[string]NodeSpec{
			"out": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Lit("x")},
				IsResult: true,
			},
		},
	}

	var mu sync.Mutex
	counts := map[EventKind]int{}
	opts := Options{EventHandler: func(e Event) {
		mu.Lock()
		counts[e.Kind]++
		mu.Unlock()
	}}

	s := mustScheduler(t, spec, testRegistry(t), opts)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, kind := range []EventKind{EventRunStarted, EventNodeStarted, EventNodeFinished, EventRunFinished} {
		if counts[kind] != 1 {
			t.Errorf("%s events = %d, want 1", kind, counts[kind])
		}
	}
}

func TestMapPreservesOrderUnderRandomLatencies(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Register(Definition{
		Name: "jitterEcho",
		Fn: func(_ context.Context, in Inputs, _ Params) (any, error) {
			time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
			return in["value"], nil
		},
	}); err != nil {
		t.Fatalf("register jitterEcho: %v", err)
	}

	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"rows": {Value: &ValueSpec{}},
			"fan": {
				Map: &MapSpec{
					RowsInput:   "rows",
					RowVar:      "row",
					Concurrency: 3,
					Graph: GraphSpec{
						Nodes: map[string]NodeSpec{
							"row": {Value: &ValueSpec{}},
							"out": {
								Agent:    "jitterEcho",
								Inputs:   map[string]InputBinding{"value": Ref("row")},
								IsResult: true,
							},
						},
					},
				},
				Inputs:   map[string]InputBinding{"rows": Ref("rows")},
				IsResult: true,
			},
		},
	}

	const trials = 20
	for trial := 0; trial < trials; trial++ {
		rows := make([]any, 8)
		for i := range rows {
			rows[i] = i
		}

		s := mustScheduler(t, spec, reg, Options{Concurrency: 4})
		if err := s.Inject("rows", rows); err != nil {
			t.Fatalf("Inject: %v", err)
		}
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("trial %d: Run: %v", trial, err)
		}

		results := bag["fan"].([]any)
		if len(results) != len(rows) {
			t.Fatalf("trial %d: results = %d", trial, len(results))
		}
		for i, r := range results {
			if got := r.(map[string]any)["out"]; got != i {
				t.Fatalf("trial %d: results[%d] = %v, completion order leaked in", trial, i, got)
			}
		}
	}
}

func TestRepeatedRunsYieldSameResultKeys(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			"flag": {Value: &ValueSpec{Default: true}},
			"taken": {
				Agent:    "echo",
				If:       "flag",
				Inputs:   map[string]InputBinding{"value": Lit("yes")},
				IsResult: true,
			},
			"gatedOff": {
				Agent:    "echo",
				Unless:   "flag",
				Inputs:   map[string]InputBinding{"value": Lit("no")},
				IsResult: true,
			},
			"always": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Lit("base")},
				IsResult: true,
			},
		},
	}

	var want []string
	for trial := 0; trial < 5; trial++ {
		s := mustScheduler(t, spec, testRegistry(t), Options{Concurrency: 3})
		bag, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("trial %d: Run: %v", trial, err)
		}

		keys := make([]string, 0, len(bag))
		for k := range bag {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if trial == 0 {
			want = keys
			if len(want) != 2 || want[0] != "always" || want[1] != "taken" {
				t.Fatalf("keys = %v, want the active branches only", want)
			}
			continue
		}
		if len(keys) != len(want) {
			t.Fatalf("trial %d: keys = %v, want %v", trial, keys, want)
		}
		for i := range keys {
			if keys[i] != want[i] {
				t.Fatalf("trial %d: keys = %v, want %v", trial, keys, want)
			}
		}
	}
}

func TestRunErrorPrefersFailureOnResultChain(t *testing.T) {
	spec := &GraphSpec{
		Nodes: map[string]NodeSpec{
			// Fails in the first sweep, on a branch the result never reads.
			"stray": {Agent: "fail"},
			"prep": {
				Agent:  "echo",
				Inputs: map[string]InputBinding{"value": Lit(1)},
			},
			"relevant": {
				Agent:  "fail",
				Inputs: map[string]InputBinding{"value": Ref("prep")},
			},
			"final": {
				Agent:    "echo",
				Inputs:   map[string]InputBinding{"value": Ref("relevant")},
				IsResult: true,
			},
		},
	}

	s := mustScheduler(t, spec, testRegistry(t), Options{Concurrency: 2})
	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("a failed result node must fail the run")
	}
	if !strings.Contains(err.Error(), "relevant") {
		t.Errorf("err = %v, want the failure upstream of the result", err)
	}
	if strings.Contains(err.Error(), "stray") {
		t.Errorf("err = %v, a side-branch failure masked the cause", err)
	}
	if got := len(s.Errors()); got != 2 {
		t.Errorf("Errors() = %d, want both failures recorded", got)
	}
}
