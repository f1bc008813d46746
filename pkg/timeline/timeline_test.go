package timeline

import (
	"math/rand"
	"testing"

	"github.com/mahaj/whisper/pkg/model"
)

func msgs(ids ...int64) []model.Message {
	out := make([]model.Message, len(ids))
	for i, id := range ids {
		out[i] = model.Message{ID: id, Username: "u", Content: "m"}
	}
	return out
}

func ids(ms []model.Message) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAppendAndPrependOrderByID(t *testing.T) {
	tl := New()
	tl.Append(model.Message{ID: 50})
	tl.Prepend(msgs(47, 46))
	tl.Append(model.Message{ID: 51})
	tl.Prepend(msgs(49, 48))

	want := []int64{46, 47, 48, 49, 50, 51}
	if got := ids(tl.Messages()); !equalIDs(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestDuplicatesIgnored(t *testing.T) {
	tl := New()
	first := model.Message{ID: 10, Content: "first"}
	if !tl.Append(first) {
		t.Fatal("first append rejected")
	}
	if tl.Append(model.Message{ID: 10, Content: "second"}) {
		t.Fatal("duplicate append accepted")
	}
	if n := tl.Prepend([]model.Message{{ID: 10, Content: "third"}, {ID: 9}}); n != 1 {
		t.Fatalf("Prepend added %d, want 1", n)
	}
	got := tl.Messages()
	if len(got) != 2 || got[1].Content != "first" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestInvalidIDsRejected(t *testing.T) {
	tl := New()
	if tl.Append(model.Message{ID: 0}) || tl.Append(model.Message{ID: -3}) {
		t.Fatal("accepted non-positive id")
	}
	if tl.Len() != 0 {
		t.Fatalf("Len = %d", tl.Len())
	}
}

func TestRandomInterleavingsStaySortedAndUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		tl := New()
		seen := map[int64]bool{}
		for op := 0; op < 50; op++ {
			if rng.Intn(2) == 0 {
				id := int64(rng.Intn(100) + 1)
				tl.Append(model.Message{ID: id})
				seen[id] = true
			} else {
				page := make([]model.Message, rng.Intn(5))
				for i := range page {
					page[i].ID = int64(rng.Intn(100) + 1)
					seen[page[i].ID] = true
				}
				tl.Prepend(page)
			}
		}

		got := tl.Messages()
		if len(got) != len(seen) {
			t.Fatalf("round %d: len = %d, want %d", round, len(got), len(seen))
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].ID >= got[i].ID {
				t.Fatalf("round %d: not strictly ascending at %d: %v", round, i, ids(got))
			}
		}
	}
}

func TestReplaceKeepsNewerLivePushes(t *testing.T) {
	tl := New()
	tl.Append(model.Message{ID: 5})
	tl.Append(model.Message{ID: 51})

	tl.Replace(msgs(50, 49, 48))

	want := []int64{48, 49, 50, 51}
	if got := ids(tl.Messages()); !equalIDs(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestOldestNewestAfter(t *testing.T) {
	tl := New()
	if _, ok := tl.Oldest(); ok {
		t.Fatal("empty timeline has an oldest message")
	}
	tl.Prepend(msgs(3, 1, 2))
	if m, _ := tl.Oldest(); m.ID != 1 {
		t.Errorf("Oldest = %d", m.ID)
	}
	if m, _ := tl.Newest(); m.ID != 3 {
		t.Errorf("Newest = %d", m.ID)
	}
	if got := ids(tl.After(1)); !equalIDs(got, []int64{2, 3}) {
		t.Errorf("After(1) = %v", got)
	}
}

func TestUpdatedSignalsAndReset(t *testing.T) {
	tl := New()
	tl.Append(model.Message{ID: 1})
	tl.Append(model.Message{ID: 2})
	select {
	case <-tl.Updated():
	default:
		t.Fatal("expected update signal")
	}

	tl.Append(model.Message{ID: 2})
	select {
	case <-tl.Updated():
		t.Fatal("duplicate should not signal")
	default:
	}

	tl.Reset()
	if tl.Len() != 0 {
		t.Fatalf("Len after Reset = %d", tl.Len())
	}
	<-tl.Updated()
}

func TestNearTop(t *testing.T) {
	tests := []struct {
		top, height float64
		want        bool
	}{
		{0, 500, true},
		{100, 500, true},
		{101, 500, false},
		{400, 500, false},
	}
	for _, tt := range tests {
		if got := NearTop(tt.top, tt.height); got != tt.want {
			t.Errorf("NearTop(%v, %v) = %v, want %v", tt.top, tt.height, got, tt.want)
		}
	}
}
