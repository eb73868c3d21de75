package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestList_MostRecentFirst(t *testing.T) {
	t.Parallel()

	h := New()
	for i := 1; i <= 5; i++ {
		h.Append(NewResult(Result{ID: fmt.Sprint(i)}, []byte{byte(i)}))
	}

	got := h.List()
	if len(got) != 5 {
		t.Fatalf("Len = %d, want 5", len(got))
	}
	for i, r := range got {
		if want := fmt.Sprint(5 - i); r.ID != want {
			t.Errorf("List()[%d].ID = %s, want %s", i, r.ID, want)
		}
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	h := New()
	if _, ok := h.Latest(); ok {
		t.Error("Latest on empty history should report false")
	}
	h.Append(Result{ID: "a"})
	h.Append(Result{ID: "b"})

	tests := []struct {
		n      int
		wantID string
		wantOK bool
	}{
		{1, "b", true},
		{2, "a", true},
		{0, "", false},
		{3, "", false},
	}
	for _, tt := range tests {
		r, ok := h.Get(tt.n)
		if ok != tt.wantOK || r.ID != tt.wantID {
			t.Errorf("Get(%d) = (%q, %v), want (%q, %v)", tt.n, r.ID, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestResult_AudioIsCopied(t *testing.T) {
	t.Parallel()

	src := []byte("ID3")
	r := NewResult(Result{}, src)
	src[0] = 'X'
	if string(r.Audio()) != "ID3" {
		t.Error("NewResult must copy audio")
	}
	a := r.Audio()
	a[0] = 'Y'
	if string(r.Audio()) != "ID3" {
		t.Error("Audio must return a copy")
	}
	if r.AudioLen() != 3 {
		t.Errorf("AudioLen = %d", r.AudioLen())
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()

	h := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(Result{ID: fmt.Sprint(i)})
			_ = h.List()
		}()
	}
	wg.Wait()
	if h.Len() != 50 {
		t.Errorf("Len = %d, want 50", h.Len())
	}
}
