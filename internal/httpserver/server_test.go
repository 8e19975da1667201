package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/converge/internal/embedding"
	"github.com/robalobadob/converge/internal/game"
	"github.com/robalobadob/converge/internal/match"
	"github.com/robalobadob/converge/internal/scoring"
	"github.com/robalobadob/converge/internal/store"
)

const table = `cat 1 0 0
dog 0.9 0.1 0
kitten 0.95 0.05 0.1
car 0 1 0
`

func newServer(t *testing.T) *Server {
	t.Helper()
	vocab, err := embedding.Load(strings.NewReader(table))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sc, err := scoring.New(vocab, 8)
	if err != nil {
		t.Fatalf("scoring.New failed: %v", err)
	}
	svc := match.New(store.NewMemory(), vocab, sc, zerolog.Nop())
	return New(svc, vocab, Options{Logger: zerolog.Nop()})
}

// do sends a request and decodes the JSON reply into out (when non-nil).
func do(t *testing.T, s *Server, method, path, player, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		req.Header.Set(PlayerHeader, player)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("%s %s: Content-Type = %q", method, path, ct)
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestGameFlow(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	var g game.Game
	if code := do(t, s, http.MethodPost, "/games", "", `{"playerId":"A"}`, &g); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if g.ID == "" || g.Status != game.StatusPending {
		t.Fatalf("created game = %+v", g)
	}
	base := "/games/" + g.ID

	// player from header
	if code := do(t, s, http.MethodPost, base+"/join", "B", "", &g); code != http.StatusOK {
		t.Fatalf("join status = %d", code)
	}
	if g.Player2 != "B" || g.CurrentRound != 1 {
		t.Errorf("joined game = %+v", g)
	}

	var res match.MoveResult
	if code := do(t, s, http.MethodPost, base+"/moves", "", `{"playerId":"A","word":"cat"}`, &res); code != http.StatusOK {
		t.Fatalf("move status = %d", code)
	}
	if res.Stage != game.StageCollecting {
		t.Errorf("first move stage = %s", res.Stage)
	}
	do(t, s, http.MethodPost, base+"/moves", "B", `{"word":"dog"}`, &res)
	if res.Stage != game.StageScored || res.Game.CurrentRound != 2 || res.Round.Results == nil {
		t.Errorf("second move = %+v", res)
	}
	do(t, s, http.MethodPost, base+"/moves", "A", `{"word":"cat"}`, &res)
	do(t, s, http.MethodPost, base+"/moves", "B", `{"word":"Cat"}`, &res)
	if res.Game.Status != game.StatusWon {
		t.Errorf("final status = %s", res.Game.Status)
	}

	var view match.GameView
	if code := do(t, s, http.MethodGet, base, "", "", &view); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if view.Game.Status != game.StatusWon || len(view.Rounds) != 2 || view.Rounds[1].Optimal != "kitten" {
		t.Errorf("view = %+v", view)
	}

	var list gamesRes
	do(t, s, http.MethodGet, "/games?playerId=B", "", "", &list)
	if len(list.Games) != 1 || list.Games[0] != g.ID {
		t.Errorf("games for B = %v", list.Games)
	}
	do(t, s, http.MethodGet, "/players/A/games", "", "", &list)
	if len(list.Games) != 1 || list.Games[0] != g.ID {
		t.Errorf("games for A = %v", list.Games)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	var g game.Game
	do(t, s, http.MethodPost, "/games", "A", "", &g)
	base := "/games/" + g.ID

	tests := []struct {
		name         string
		method, path string
		player, body string
		status       int
		kind         string
	}{
		{"create without player", http.MethodPost, "/games", "", "", http.StatusBadRequest, "validation"},
		{"bad json", http.MethodPost, "/games", "", "{", http.StatusBadRequest, "validation"},
		{"unknown game", http.MethodGet, "/games/nope", "", "", http.StatusNotFound, "not_found"},
		{"join own game", http.MethodPost, base + "/join", "A", "", http.StatusConflict, "conflict"},
		{"move while pending", http.MethodPost, base + "/moves", "A", `{"word":"cat"}`, http.StatusConflict, "conflict"},
		{"unknown word", http.MethodPost, base + "/moves", "A", `{"word":"xylophone"}`, http.StatusBadRequest, "validation"},
		{"list without player", http.MethodGet, "/games", "", "", http.StatusBadRequest, "validation"},
		{"no route", http.MethodGet, "/nowhere", "", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		var e errorRes
		code := do(t, s, tt.method, tt.path, tt.player, tt.body, &e)
		if code != tt.status || e.Error != tt.kind || e.Message == "" {
			t.Errorf("%s: %d %+v, want %d %s", tt.name, code, e, tt.status, tt.kind)
		}
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{game.ErrMissingWord, http.StatusBadRequest},
		{game.ErrGameNotFound, http.StatusNotFound},
		{game.ErrWaitingForOpponent, http.StatusConflict},
		{game.Transient(errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(game.KindOf(tt.err)); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	var health map[string]bool
	if code := do(t, s, http.MethodGet, "/health", "", "", &health); code != http.StatusOK || !health["ok"] {
		t.Errorf("/health = %d %v", code, health)
	}
	var vocab map[string]int
	do(t, s, http.MethodGet, "/debug/vocabulary", "", "", &vocab)
	if vocab["words"] != 4 || vocab["dimension"] != 3 {
		t.Errorf("/debug/vocabulary = %v", vocab)
	}

	req := httptest.NewRequest(http.MethodOptions, "/games", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestServeShutdown(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get("http://" + addr + "/health"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
