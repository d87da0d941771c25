package handler

import (
	"net/http"

	"inkscribe-server/internal/middleware"

	"github.com/gorilla/mux"
)

// Handlers groups everything NewRouter mounts. Nil handlers are skipped.
type Handlers struct {
	Auth      *AuthHandler
	User      *UserHandler
	Session   *SessionHandler
	Upload    *UploadHandler
	Note      *NoteHandler
	File      *FileHandler
	Health    *HealthHandler
	WebSocket *WebSocketHandler
}

func NewRouter(h Handlers, jwtSecret string, mw ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	if h.Auth != nil {
		api.HandleFunc("/auth/register", h.Auth.Register).Methods("POST", "OPTIONS")
		api.HandleFunc("/auth/login", h.Auth.Login).Methods("POST", "OPTIONS")
		api.HandleFunc("/auth/refresh", h.Auth.Refresh).Methods("POST", "OPTIONS")
		api.HandleFunc("/auth/logout", h.Auth.Logout).Methods("POST", "OPTIONS")
	}

	if h.Note != nil {
		api.HandleFunc("/sessions/{sid}/previews/{id}", h.Note.Preview).Methods("GET")
	}

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(jwtSecret))

	if h.User != nil {
		protected.HandleFunc("/users/me", h.User.GetMe).Methods("GET", "OPTIONS")
		protected.HandleFunc("/users/me", h.User.UpdateMe).Methods("PUT", "OPTIONS")
	}

	if h.Session != nil {
		protected.HandleFunc("/sessions", h.Session.Create).Methods("POST", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}", h.Session.Get).Methods("GET", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}", h.Session.Close).Methods("DELETE", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/signin", h.Session.SignIn).Methods("POST", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/signout", h.Session.SignOut).Methods("POST", "OPTIONS")
	}

	if h.Upload != nil {
		protected.HandleFunc("/sessions/{sid}/uploads", h.Upload.Upload).Methods("POST", "OPTIONS")
	}

	if h.Note != nil {
		protected.HandleFunc("/sessions/{sid}/notes", h.Note.List).Methods("GET", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/notes/{id}", h.Note.Get).Methods("GET", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/notes/{id}", h.Note.Update).Methods("PUT", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/notes/{id}", h.Note.Delete).Methods("DELETE", "OPTIONS")
		protected.HandleFunc("/sessions/{sid}/notes/{id}/export", h.Note.Export).Methods("GET", "OPTIONS")
	}

	if h.File != nil {
		r.HandleFunc("/files/{path:.+}", h.File.Serve).Methods("GET", "HEAD")
	}
	if h.WebSocket != nil {
		r.HandleFunc("/ws", h.WebSocket.HandleConnection)
	}
	if h.Health != nil {
		r.HandleFunc("/health", h.Health.Health).Methods("GET")
	}
	r.HandleFunc("/", rootHandler).Methods("GET")

	return r
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Inkscribe API","version":"1.0.0"}`))
}
