package artifact

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestPutGet(t *testing.T) {
	s := NewStore()

	rec, err := s.Put("build", "dist", []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Size != 7 {
		t.Fatalf("size = %d, want 7", rec.Size)
	}
	if err := rec.Digest.Validate(); err != nil {
		t.Fatalf("invalid digest %q: %v", rec.Digest, err)
	}

	got, err := s.Get("build", "dist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Digest != rec.Digest || string(got.Bytes()) != "payload" {
		t.Fatalf("got %v, want %v", got, rec)
	}
}

func TestDigestDeterministic(t *testing.T) {
	s := NewStore()
	a, _ := s.Put("a", "x", []byte("same"))
	b, _ := s.Put("b", "y", []byte("same"))
	c, _ := s.Put("c", "z", []byte("different"))

	if a.Digest != b.Digest {
		t.Fatal("identical content produced different digests")
	}
	if a.Digest == c.Digest {
		t.Fatal("different content produced the same digest")
	}
}

func TestAppendOnly(t *testing.T) {
	s := NewStore()
	if _, err := s.Put("a", "x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("a", "x", []byte("2")); !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}

	rec, _ := s.Get("a", "x")
	if string(rec.Bytes()) != "1" {
		t.Fatalf("content = %q, want 1", rec.Bytes())
	}
}

func TestRecordImmutable(t *testing.T) {
	s := NewStore()
	content := []byte("abc")
	rec, _ := s.Put("a", "x", content)

	content[0] = 'z'
	b := rec.Bytes()
	b[1] = 'z'

	if string(rec.Bytes()) != "abc" {
		t.Fatalf("content = %q, want abc", rec.Bytes())
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("a", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stage := fmt.Sprintf("s%d", i)
			if _, err := s.Put(stage, "out", []byte(stage)); err != nil {
				t.Errorf("put %s: %v", stage, err)
				return
			}
			if _, err := s.Get(stage, "out"); err != nil {
				t.Errorf("get %s: %v", stage, err)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 32 {
		t.Fatalf("len = %d, want 32", s.Len())
	}
}

func TestConcurrentPutSameKey(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put("a", "x", []byte("v")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("successful puts = %d, want 1", wins)
	}
}
