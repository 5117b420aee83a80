// Package admin exposes a bearer-token-protected CRUD surface over
// sources, destinations, and destination rules so operators (and
// integration tests) can seed fixtures without touching Postgres
// directly.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"webhookhub/internal/logging"
)

type Server struct {
	DB     *pgxpool.Pool
	Logger logging.Logger
	Token  string
}

func NewServer(db *pgxpool.Pool, logger logging.Logger, token string) *Server {
	return &Server{DB: db, Logger: logger, Token: token}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/sources", s.sources)
	mux.HandleFunc("/admin/destinations", s.destinations)
	mux.HandleFunc("/admin/routes", s.routes)
	mux.Handle("/admin/", Handler())
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if s.Token != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		if strings.TrimSpace(auth[len("bearer "):]) == s.Token {
			return true
		}
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		rows, err := s.DB.Query(ctx, `SELECT source_id::text, name, active, created_at FROM sources ORDER BY created_at DESC`)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		var items []map[string]any
		for rows.Next() {
			var id, name string
			var active bool
			var createdAt any
			if err := rows.Scan(&id, &name, &active, &createdAt); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			items = append(items, map[string]any{"source_id": id, "name": name, "active": active, "created_at": createdAt})
		}
		writeJSON(w, map[string]any{"items": items})

	case http.MethodPost:
		var req struct {
			Name       string `json:"name"`
			HMACSecret string `json:"hmac_secret"`
			Active     *bool  `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.HMACSecret == "" {
			http.Error(w, "name and hmac_secret required", http.StatusBadRequest)
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		id := uuid.Must(uuid.NewV4()).String()
		if _, err := s.DB.Exec(ctx, `
			INSERT INTO sources (source_id, name, hmac_secret, active)
			VALUES ($1::uuid, $2, $3, $4)
		`, id, req.Name, req.HMACSecret, active); err != nil {
			s.Logger.Error("admin_create_source_failed", "error", err)
			http.Error(w, "conflict or error", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"source_id": id, "name": req.Name, "active": active})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) destinations(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		rows, err := s.DB.Query(ctx, `SELECT destination_id::text, name, target_url, active, created_at FROM destinations ORDER BY created_at DESC`)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		var items []map[string]any
		for rows.Next() {
			var id, name, targetURL string
			var active bool
			var createdAt any
			if err := rows.Scan(&id, &name, &targetURL, &active, &createdAt); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			items = append(items, map[string]any{"destination_id": id, "name": name, "target_url": targetURL, "active": active, "created_at": createdAt})
		}
		writeJSON(w, map[string]any{"items": items})

	case http.MethodPost:
		var req struct {
			Name      string   `json:"name"`
			TargetURL string   `json:"target_url"`
			Active    *bool    `json:"active"`
			MaxRPS    *float64 `json:"max_rps"`
			Burst     *int     `json:"burst"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.TargetURL == "" {
			http.Error(w, "name and target_url required", http.StatusBadRequest)
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		rps := 5.0
		if req.MaxRPS != nil {
			rps = *req.MaxRPS
		}
		burst := 10
		if req.Burst != nil {
			burst = *req.Burst
		}
		id := uuid.Must(uuid.NewV4()).String()
		if _, err := s.DB.Exec(ctx, `
			INSERT INTO destinations (destination_id, name, target_url, active, max_rps, burst)
			VALUES ($1::uuid, $2, $3, $4, $5, $6)
		`, id, req.Name, req.TargetURL, active, rps, burst); err != nil {
			s.Logger.Error("admin_create_destination_failed", "error", err)
			http.Error(w, "conflict or error", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"destination_id": id, "name": req.Name, "target_url": req.TargetURL})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) routes(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		rows, err := s.DB.Query(ctx, `
			SELECT dr.rule_id::text, dr.source_name, dr.event_type, d.destination_id::text, d.name
			FROM destination_rules dr JOIN destinations d ON d.destination_id = dr.destination_id
			ORDER BY dr.source_name, dr.event_type
		`)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		var items []map[string]any
		for rows.Next() {
			var ruleID, sourceName, eventType, destID, destName string
			if err := rows.Scan(&ruleID, &sourceName, &eventType, &destID, &destName); err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			items = append(items, map[string]any{
				"rule_id": ruleID, "source_name": sourceName, "event_type": eventType,
				"destination": map[string]any{"id": destID, "name": destName},
			})
		}
		writeJSON(w, map[string]any{"items": items})

	case http.MethodPost:
		var req struct {
			SourceName    string `json:"source_name"`
			EventType     string `json:"event_type"`
			DestinationID string `json:"destination_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.SourceName == "" || req.EventType == "" || req.DestinationID == "" {
			http.Error(w, "source_name, event_type, and destination_id required", http.StatusBadRequest)
			return
		}
		id := uuid.Must(uuid.NewV4()).String()
		if _, err := s.DB.Exec(ctx, `
			INSERT INTO destination_rules (rule_id, destination_id, source_name, event_type)
			VALUES ($1::uuid, $2::uuid, $3, $4)
		`, id, req.DestinationID, req.SourceName, req.EventType); err != nil {
			s.Logger.Error("admin_create_rule_failed", "error", err)
			http.Error(w, "conflict or error", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"rule_id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
