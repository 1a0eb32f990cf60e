package source

import (
	"context"
	"errors"
	"testing"
)

type fakeFetcher struct {
	calls int
	data  []byte
	err   error
}

func (f *fakeFetcher) PreviewDocument(_ context.Context, id string, _ int64) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name string
		a, b RenderSource
		same bool
	}{
		{"same blob bytes", Blob("a.pdf", []byte("x")), Blob("b.pdf", []byte("x")), true},
		{"different blob bytes", Blob("a.pdf", []byte("x")), Blob("a.pdf", []byte("y")), false},
		{"same remote id", Remote("7"), Remote("7"), true},
		{"remote vs blob", Remote("7"), Blob("7", []byte("7")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Identity() == tt.b.Identity(); got != tt.same {
				t.Errorf("identity equal = %v, want %v (%s vs %s)", got, tt.same, tt.a.Identity(), tt.b.Identity())
			}
		})
	}
}

func TestBlobCopiesInput(t *testing.T) {
	buf := []byte("abc")
	src := Blob("f", buf)
	buf[0] = 'z'

	got, err := NewResolver(nil, 0).Resolve(context.Background(), src)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("blob changed with caller buffer: %q", got)
	}

	got[1] = 'z'
	again, err := NewResolver(nil, 0).Resolve(context.Background(), src)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if string(again) != "abc" {
		t.Errorf("blob changed through resolved bytes: %q", again)
	}
}

func TestResolveRemote(t *testing.T) {
	f := &fakeFetcher{data: []byte("%PDF")}
	got, err := NewResolver(f, 10).Resolve(context.Background(), Remote("42"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(got) != "%PDF" || f.calls != 1 {
		t.Errorf("got %q after %d calls", got, f.calls)
	}
}

func TestResolveRemoteFailureNotRetried(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}
	_, err := NewResolver(f, 0).Resolve(context.Background(), Remote("42"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if f.calls != 1 {
		t.Errorf("expected exactly one fetch, got %d", f.calls)
	}
}

func TestResolveInvalidSources(t *testing.T) {
	r := NewResolver(&fakeFetcher{}, 0)
	for _, src := range []RenderSource{{}, Remote(""), {kind: "ftp"}} {
		_, err := r.Resolve(context.Background(), src)
		var se *SourceError
		if !errors.As(err, &se) {
			t.Errorf("source %+v: expected SourceError, got %v", src, err)
		}
	}

	_, err := r.Resolve(context.Background(), RenderSource{})
	if !errors.Is(err, ErrEmptySource) {
		t.Errorf("expected ErrEmptySource, got %v", err)
	}
	if err.Error() != "source: no document source" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
