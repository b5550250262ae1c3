package server

import (
	"net/http"
)

// setupRoutes registers all API routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Service endpoints
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// Auth endpoints
	mux.HandleFunc("/api/auth/register", s.app.AuthHandler.RegisterHandler)
	mux.HandleFunc("/api/auth/login", s.app.AuthHandler.LoginHandler)
	mux.HandleFunc("/api/auth/login-with-cookies", s.app.AuthHandler.CookieLoginHandler)
	mux.HandleFunc("/api/auth/me", s.app.AuthHandler.MeHandler)
	mux.HandleFunc("/api/auth/logout", s.app.AuthHandler.LogoutHandler)
	mux.HandleFunc("/api/auth/logout-gvoice", s.app.AuthHandler.UpstreamLogoutHandler)

	// SMS endpoints
	mux.HandleFunc("/api/sms/send", s.app.SMSHandler.SendHandler)
	mux.HandleFunc("/api/sms/threads", s.app.SMSHandler.ThreadsHandler)
	mux.HandleFunc("/api/sms/threads/", s.app.SMSHandler.ThreadHandler)
	mux.HandleFunc("/api/sms/mark-all-read", s.app.SMSHandler.MarkAllReadHandler)
	mux.HandleFunc("/api/sms/account", s.app.SMSHandler.AccountHandler)

	// Webhook endpoints
	mux.HandleFunc("/api/webhooks", s.app.WebhookHandler.CollectionHandler)
	mux.HandleFunc("/api/webhooks/", s.app.WebhookHandler.ItemHandler)

	// Realtime gateway
	mux.HandleFunc("/ws/realtime", s.app.WebSocketHandler.HandleWebSocket)
	mux.HandleFunc("/api/realtime/status", s.app.WebSocketHandler.StatusHandler)

	// Catch-all for unknown API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
