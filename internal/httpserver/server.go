// internal/httpserver/server.go
//
// HTTP server wiring for the converge backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health", "/debug/vocabulary".
//   - Game endpoints under /games and /players/{playerID}/games.
//   - Mapping game error kinds to HTTP statuses.
//
// Notes:
//   - Player identity comes from the JSON body ("playerId") or the X-Player-ID
//     header. It is trusted as given.
//   - Error bodies are {"error": <kind>, "message": <text>}.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/robalobadob/converge/internal/game"
	"github.com/robalobadob/converge/internal/match"
)

// Games is the game service the server exposes.
type Games interface {
	CreateGame(ctx context.Context, player1 string) (*game.Game, error)
	JoinGame(ctx context.Context, gameID, player2 string) (*game.Game, error)
	SubmitMove(ctx context.Context, gameID, player, word string) (*match.MoveResult, error)
	QuitGame(ctx context.Context, gameID, player string) (*game.Game, error)
	GetGame(ctx context.Context, gameID string) (*match.GameView, error)
	GamesForPlayer(ctx context.Context, player string) ([]string, error)
}

// Vocabulary is what /debug/vocabulary reports on.
type Vocabulary interface {
	Len() int
	Dim() int
}

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	ClientOrigin    string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

// Server bundles the router and the game service.
type Server struct {
	r     *chi.Mux
	games Games
	vocab Vocabulary
	opts  Options
	log   zerolog.Logger
}

// New constructs a Server, installs middleware, and registers routes.
func New(games Games, vocab Vocabulary, opts Options) *Server {
	if opts.ClientOrigin == "" {
		opts.ClientOrigin = "http://localhost:5173"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		r:     chi.NewRouter(),
		games: games,
		vocab: vocab,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "http").Logger(),
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                    // add X-Request-ID
	s.r.Use(chimw.RealIP)                       // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(accessLog(s.log))                   // one line per request
	s.r.Use(chimw.Recoverer)                    // recover from panics
	s.r.Use(chimw.Timeout(opts.RequestTimeout)) // bound handler time
	s.r.Use(jsonContentType)                    // default JSON responses
	s.r.Use(cors(opts.ClientOrigin))            // credentials-friendly CORS
	s.r.Use(withPlayer)                         // X-Player-ID into context

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"converge","endpoints":["/health","POST /games","GET /games/{id}","POST /games/{id}/join","POST /games/{id}/moves","POST /games/{id}/quit"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	s.r.Get("/debug/vocabulary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"words": s.vocab.Len(), "dimension": s.vocab.Dim()})
	})

	// --- games ---
	s.r.Route("/games", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/join", s.handleJoin)
			r.Post("/moves", s.handleMove)
			r.Post("/quit", s.handleQuit)
		})
	})
	s.r.Get("/players/{playerID}/games", func(w http.ResponseWriter, r *http.Request) {
		s.listFor(w, r, chi.URLParam(r, "playerID"))
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorRes{Error: "not_found", Message: "no route for " + r.URL.Path})
	})

	return s
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ------------------------------ payloads -----------------------------------

type playerReq struct {
	PlayerID string `json:"playerId"`
}

type moveReq struct {
	PlayerID string `json:"playerId"`
	Word     string `json:"word"`
}

type gamesRes struct {
	Games []string `json:"games"`
}

type errorRes struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decode reads an optional JSON body into v. An empty body is not an error.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &game.Error{Kind: game.KindValidation, Msg: "invalid json body", Err: err}
}

// player picks the body id over the header id.
func player(r *http.Request, fromBody string) string {
	if p := strings.TrimSpace(fromBody); p != "" {
		return p
	}
	return currentPlayer(r)
}

// ------------------------------ handlers -----------------------------------

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req playerReq
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.games.CreateGame(r.Context(), player(r, req.PlayerID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("playerId")
	if p == "" {
		p = currentPlayer(r)
	}
	s.listFor(w, r, p)
}

func (s *Server) listFor(w http.ResponseWriter, r *http.Request, p string) {
	ids, err := s.games.GamesForPlayer(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gamesRes{Games: ids})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.games.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req playerReq
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.games.JoinGame(r.Context(), chi.URLParam(r, "gameID"), player(r, req.PlayerID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveReq
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.games.SubmitMove(r.Context(), chi.URLParam(r, "gameID"), player(r, req.PlayerID), req.Word)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	var req playerReq
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.games.QuitGame(r.Context(), chi.URLParam(r, "gameID"), player(r, req.PlayerID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ------------------------------- replies -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to an HTTP status.
func statusOf(k game.Kind) int {
	switch k {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindConflict:
		return http.StatusConflict
	case game.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := game.KindOf(err)
	msg := err.Error()
	switch kind {
	case game.KindInternal:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		msg = "internal error"
	case game.KindTransient:
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("storage unavailable")
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusOf(kind), errorRes{Error: kind.String(), Message: msg})
}
