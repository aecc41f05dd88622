package registry

import (
	"strings"
	"testing"

	"github.com/rickgao/mmgame/internal/game"
)

func TestCreate_CodeShape(t *testing.T) {
	r := New(nil)

	g := r.Create(game.DefaultConfig())
	code := g.Code()

	if len(code) != codeLength {
		t.Fatalf("code length = %d, want %d", len(code), codeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Errorf("code %q contains %q outside the alphabet", code, c)
		}
	}
}

func TestGet_CaseInsensitive(t *testing.T) {
	r := New(nil)
	g := r.Create(game.DefaultConfig())

	lower := strings.ToLower(g.Code())
	got, ok := r.Get(lower)
	if !ok {
		t.Fatalf("Get(%q) not found", lower)
	}
	if got != g {
		t.Errorf("Get(%q) returned a different game", lower)
	}

	if _, ok := r.Get("ZZZZZZ"); ok {
		t.Error("Get on unknown code should miss")
	}
}

func TestJoin_CanonicalizesAndIndexes(t *testing.T) {
	r := New(nil)
	g := r.Create(game.DefaultConfig())

	joined, ok := r.Join(strings.ToLower(g.Code()), "p1", "Alice", false)
	if !ok || joined != g {
		t.Fatal("join with lowercase code failed")
	}
	if !g.HasPlayer("p1") {
		t.Error("player not added to game")
	}

	byPlayer, ok := r.GameFor("p1")
	if !ok || byPlayer != g {
		t.Error("reverse index miss after join")
	}

	if _, ok := r.Join("NOPE22", "p2", "Bob", false); ok {
		t.Error("join with unknown code should fail")
	}
}

func TestLeave_DeletesEmptyGame(t *testing.T) {
	r := New(nil)
	g := r.Create(game.DefaultConfig())
	code := g.Code()

	r.Join(code, "p1", "Alice", false)
	r.Join(code, "p2", "Bob", false)

	if _, _, ok := r.Leave("p1"); !ok {
		t.Fatal("leave failed")
	}
	if _, ok := r.Get(code); !ok {
		t.Error("game deleted while a player remains")
	}

	if _, name, ok := r.Leave("p2"); !ok || name != "Bob" {
		t.Fatalf("leave = %q, %v", name, ok)
	}
	if _, ok := r.Get(code); ok {
		t.Error("game should be deleted after the last leave")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}

	if _, _, ok := r.Leave("p2"); ok {
		t.Error("second leave should be a no-op")
	}
}

func TestLeave_UnknownPlayer(t *testing.T) {
	r := New(nil)
	if _, _, ok := r.Leave("ghost"); ok {
		t.Error("leave for unknown player should fail")
	}
}

func TestTrack(t *testing.T) {
	r := New(nil)
	g := r.Create(game.DefaultConfig())
	g.AddPlayer("gm", "GM", true)
	r.Track("gm", strings.ToLower(g.Code()))

	byPlayer, ok := r.GameFor("gm")
	if !ok || byPlayer != g {
		t.Error("reverse index miss after Track")
	}
}
