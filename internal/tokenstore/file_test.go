package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/overtone-app/spotify-session/internal/spotify"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.bin")
	return NewFileStore(path, "test-secret", nil), path
}

func testTokens() *spotify.TokenSet {
	return &spotify.TokenSet{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		ExpiresAt:    time.Now().Add(time.Hour).Round(time.Millisecond),
		Scope:        "user-read-playback-state user-modify-playback-state",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	want := testTokens()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load on missing file should not fail: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session, got %+v", got)
	}
}

func TestLoadTamperedCiphertext(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testTokens()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading token file: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if err := os.WriteFile(path, blob, 0600); err != nil {
		t.Fatalf("writing tampered file: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load on tampered file should not fail: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session from tampered file, got %+v", got)
	}
}

func TestLoadTruncatedCiphertext(t *testing.T) {
	store, path := newTestStore(t)

	if err := os.WriteFile(path, []byte{0x01, 0x02}, 0600); err != nil {
		t.Fatalf("writing truncated file: %v", err)
	}

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load on truncated file should not fail: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session from truncated file, got %+v", got)
	}
}

func TestLoadWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.bin")
	ctx := context.Background()

	writer := NewFileStore(path, "secret-one", nil)
	if err := writer.Save(ctx, testTokens()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reader := NewFileStore(path, "secret-two", nil)
	got, err := reader.Load(ctx)
	if err != nil {
		t.Fatalf("load with wrong secret should not fail: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session with wrong secret, got %+v", got)
	}
}

func TestSaveNilDeletes(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testTokens()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("save(nil) failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected token file to be removed, stat err = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load after delete failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected no session after delete, got %+v", got)
	}
}

func TestSaveNilOnMissingFile(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), nil); err != nil {
		t.Errorf("save(nil) with no existing file should succeed: %v", err)
	}
}

func TestFilePermissions(t *testing.T) {
	store, path := newTestStore(t)

	if err := store.Save(context.Background(), testTokens()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}
