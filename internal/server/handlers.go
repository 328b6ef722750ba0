package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/omochice/chat-relay/internal/auth"
	"github.com/omochice/chat-relay/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type profileResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type personResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type messageResponse struct {
	ID        string  `json:"_id"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Text      string  `json:"text"`
	File      *string `json:"file"`
	CreatedAt string  `json:"createdAt"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("chat relay is running"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id, err := s.store.CreateUser(req.Username, hash)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			writeError(w, http.StatusBadRequest, "username is taken")
			return
		}
		s.log.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	userID := strconv.FormatInt(id, 10)
	if !s.issueCookie(w, userID, req.Username) {
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{ID: userID, Username: req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.GetUserByName(req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.log.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.auth.CheckPassword(user.Password, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "wrong credentials")
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	if !s.issueCookie(w, userID, user.Username) {
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{ID: userID, Username: user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, "ok")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := s.identify(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{UserID: userID, Username: username})
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		s.log.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	people := make([]personResponse, 0, len(users))
	for _, u := range users {
		people = append(people, personResponse{
			ID:       strconv.FormatInt(u.ID, 10),
			Username: u.Username,
		})
	}
	writeJSON(w, http.StatusOK, people)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := s.identify(w, r)
	if !ok {
		return
	}

	other := r.PathValue("userId")
	history, err := s.store.History(userID, other)
	if err != nil {
		s.log.Error("query history", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	messages := make([]messageResponse, 0, len(history))
	for _, m := range history {
		var file *string
		if m.File != "" {
			ref := m.File
			file = &ref
		}
		messages = append(messages, messageResponse{
			ID:        strconv.FormatInt(m.ID, 10),
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Text:      m.Text,
			File:      file,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, messages)
}

// identify resolves the token cookie to a user, writing a 401 on failure.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) (userID, username string, ok bool) {
	cookie, err := r.Cookie(tokenCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "no token")
		return "", "", false
	}

	userID, username, err = s.auth.VerifyToken(cookie.Value)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			s.log.Error("verify token", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid token")
		return "", "", false
	}
	return userID, username, true
}

// issueCookie signs a session token and sets the token cookie. Reports
// false after writing a 500 when signing fails.
func (s *Server) issueCookie(w http.ResponseWriter, userID, username string) bool {
	token, err := s.auth.IssueToken(userID, username)
	if err != nil {
		s.log.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
