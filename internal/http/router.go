package httpserver

import "net/http"

// Routes groups handlers. Authenticated routes arrive already wrapped by
// the JWT middleware in the app wiring.
type Routes struct {
	Park          http.HandlerFunc
	Unpark        http.HandlerFunc
	FindSessions  http.HandlerFunc
	ReceiptsMe    http.HandlerFunc
	Signup        http.HandlerFunc
	Login         http.HandlerFunc
	Notifications http.HandlerFunc
	Health        http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Park != nil {
		mux.Handle("/park", methodSwitch(map[string]http.HandlerFunc{
			http.MethodPost: routes.Park,
			http.MethodGet:  routes.FindSessions,
		}))
	}
	if routes.Unpark != nil {
		mux.Handle("/unpark", method(http.MethodPost, routes.Unpark))
	}
	if routes.ReceiptsMe != nil {
		mux.Handle("/receipts/me", method(http.MethodGet, routes.ReceiptsMe))
	}
	if routes.Signup != nil {
		mux.Handle("/auth/signup", method(http.MethodPost, routes.Signup))
	}
	if routes.Login != nil {
		mux.Handle("/auth/login", method(http.MethodPost, routes.Login))
	}
	if routes.Notifications != nil {
		mux.Handle("/ws/notifications", method(http.MethodGet, routes.Notifications))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

func methodSwitch(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok && handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
