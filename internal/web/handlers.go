package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"rag-portal/internal/db"
	"rag-portal/internal/estate"
	"rag-portal/internal/models"
	"rag-portal/internal/parser"
	"rag-portal/internal/rag"
	"rag-portal/internal/usecase"
)

func (s *Server) user(ctx context.Context) (*db.User, error) {
	u, err := s.opts.Users.GetOrCreate(ctx, s.opts.DefaultUser)
	if err != nil {
		return nil, usecase.Classify("resolve web user", err)
	}
	return u, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", map[string]any{
		"Title":    "rag-portal",
		"Document": s.opts.DocumentPath,
		"Line":     s.opts.LineWebhook != nil,
		"Avatar":   s.opts.Avatar != nil,
		"Estate":   s.opts.Estate != nil,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// qa

func (s *Server) handleQAPage(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r.Context())
	if err != nil {
		s.renderError(w, err)
		return
	}
	logs, err := s.opts.ChatLogs.FindByUser(r.Context(), user.ID)
	if err != nil {
		s.renderError(w, usecase.Classify("load chat logs", err))
		return
	}
	s.render(w, http.StatusOK, "qa.html", map[string]any{
		"Title":    "Retrieval QA",
		"Document": s.opts.DocumentPath,
		"Logs":     s.views(logs),
	})
}

func (s *Server) handleQAPost(w http.ResponseWriter, r *http.Request) {
	user, resp, err := s.ask(r, "")
	if err != nil {
		s.renderError(w, err)
		return
	}
	if err := s.saveExchange(r.Context(), user, models.ThreadQA, resp.Query, rag.FormatAnswer(resp)); err != nil {
		s.renderError(w, err)
		return
	}
	http.Redirect(w, r, "/qa/", http.StatusSeeOther)
}

// chat

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	s.renderChat(w, r, nil)
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	user, resp, err := s.ask(r, parser.ModeSplit)
	if err != nil {
		s.renderError(w, err)
		return
	}
	if err := s.saveExchange(r.Context(), user, models.ThreadChat, resp.Query, resp.Answer); err != nil {
		s.renderError(w, err)
		return
	}
	s.renderChat(w, r, resp)
}

func (s *Server) renderChat(w http.ResponseWriter, r *http.Request, resp *models.PromptResponse) {
	user, err := s.user(r.Context())
	if err != nil {
		s.renderError(w, err)
		return
	}
	logs, err := s.opts.ChatLogs.FindThread(r.Context(), user.ID, models.ThreadChat)
	if err != nil {
		s.renderError(w, usecase.Classify("load chat logs", err))
		return
	}
	var sources []map[string]string
	if resp != nil {
		for _, c := range resp.Sources {
			sources = append(sources, c.Metadata())
		}
	}
	s.render(w, http.StatusOK, "chat.html", map[string]any{
		"Title":    "PDF chat",
		"Document": s.opts.DocumentPath,
		"Logs":     s.views(logs),
		"Sources":  sources,
	})
}

func (s *Server) ask(r *http.Request, mode string) (*db.User, *models.PromptResponse, error) {
	if s.opts.QA == nil || s.opts.DocumentPath == "" {
		return nil, nil, errNotConfigured
	}
	user, err := s.user(r.Context())
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.opts.QA.Query(r.Context(), rag.Request{
		FilePath: s.opts.DocumentPath,
		Question: r.FormValue("question"),
		Mode:     mode,
	})
	if err != nil {
		return nil, nil, usecase.Classify("answer question", err)
	}
	return user, resp, nil
}

func (s *Server) saveExchange(ctx context.Context, user *db.User, thread, question, answer string) error {
	err := s.opts.ChatLogs.BulkInsert(ctx, []*db.ChatLog{
		{UserID: user.ID, Thread: thread, Role: models.RoleUser, Message: question},
		{UserID: user.ID, Thread: thread, Role: models.RoleAssistant, Message: answer},
	})
	if err != nil {
		return usecase.Classify("save chat logs", err)
	}
	return nil
}

// line web front

func (s *Server) handleLinePage(w http.ResponseWriter, r *http.Request) {
	s.renderLine(w, r, nil)
}

func (s *Server) handleLinePost(w http.ResponseWriter, r *http.Request) {
	if s.opts.Dispatcher == nil {
		s.renderError(w, errNotConfigured)
		return
	}
	user, err := s.user(r.Context())
	if err != nil {
		s.renderError(w, err)
		return
	}
	res, err := s.opts.Dispatcher.Dispatch(r.Context(), user, r.FormValue("question"))
	if err != nil {
		s.renderError(w, err)
		return
	}
	s.renderLine(w, r, res)
}

func (s *Server) renderLine(w http.ResponseWriter, r *http.Request, res *usecase.Result) {
	user, err := s.user(r.Context())
	if err != nil {
		s.renderError(w, err)
		return
	}
	logs, err := s.lineLogs(r.Context(), user.ID)
	if err != nil {
		s.renderError(w, usecase.Classify("load chat logs", err))
		return
	}
	data := map[string]any{
		"Title": "Assessment chat",
		"Logs":  s.views(logs),
	}
	if res != nil && res.Kind == usecase.KindText && res.FilePath != "" {
		// transcriptions are not stored, show them once
		data["Transcript"] = res.Text
	}
	s.render(w, http.StatusOK, "line.html", data)
}

// lineLogs merges the assessment and media threads in insertion order.
func (s *Server) lineLogs(ctx context.Context, userID int64) ([]db.ChatLog, error) {
	all, err := s.opts.ChatLogs.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var logs []db.ChatLog
	for _, l := range all {
		if l.Thread == models.ThreadLine || l.Thread == models.ThreadLineMedia {
			logs = append(logs, l)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].ID < logs[j].ID })
	return logs, nil
}

// d-id

func (s *Server) handleDIDPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "did.html", map[string]any{"Title": "Talking avatar"})
}

func (s *Server) handleDIDPost(w http.ResponseWriter, r *http.Request) {
	if s.opts.Avatar == nil {
		s.renderError(w, errNotConfigured)
		return
	}
	question := strings.TrimSpace(r.FormValue("question"))
	if question == "" {
		s.renderError(w, &usecase.Error{Code: usecase.CodeInvalidInput, Reason: "question is empty"})
		return
	}
	stream, err := s.opts.Avatar.CreateStream(r.Context(), s.opts.DIDSourceURL)
	if err != nil {
		s.renderError(w, usecase.Classify("create avatar stream", err))
		return
	}
	s.render(w, http.StatusOK, "did.html", map[string]any{
		"Title":    "Talking avatar",
		"Question": question,
		"Stream":   stream,
	})
}

type streamRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Text      string `json:"text"`
}

func (s *Server) decodeStream(w http.ResponseWriter, r *http.Request) (*streamRequest, bool) {
	if s.opts.Avatar == nil {
		writeJSONError(w, errNotConfigured)
		return nil, false
	}
	var req streamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, &usecase.Error{Code: usecase.CodeInvalidInput, Reason: "invalid JSON body", Err: err})
		return nil, false
	}
	if req.SessionID == "" {
		writeJSONError(w, &usecase.Error{Code: usecase.CodeInvalidInput, Reason: "session_id is required"})
		return nil, false
	}
	return &req, true
}

func (s *Server) handleDIDStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStream(w, r)
	if !ok {
		return
	}
	status, err := s.opts.Avatar.StartStream(r.Context(), r.PathValue("id"), req.SessionID, req.Answer)
	if err != nil {
		writeJSONError(w, usecase.Classify("start avatar stream", err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDIDTalk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStream(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, &usecase.Error{Code: usecase.CodeInvalidInput, Reason: "text is required"})
		return
	}
	status, err := s.opts.Avatar.SendTalk(r.Context(), r.PathValue("id"), req.SessionID, req.Text)
	if err != nil {
		writeJSONError(w, usecase.Classify("send talk", err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDIDDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStream(w, r)
	if !ok {
		return
	}
	if err := s.opts.Avatar.DeleteStream(r.Context(), r.PathValue("id"), req.SessionID); err != nil {
		writeJSONError(w, usecase.Classify("delete avatar stream", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// estate

func (s *Server) handleEstatePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "estate.html", map[string]any{"Title": "Estate lookup"})
}

func (s *Server) handleEstatePost(w http.ResponseWriter, r *http.Request) {
	if s.opts.Estate == nil {
		s.renderError(w, errNotConfigured)
		return
	}
	coords, err := coordsFromForm(r)
	if err != nil {
		s.renderError(w, &usecase.Error{Code: usecase.CodeInvalidInput, Reason: "invalid coordinates", Err: err})
		return
	}
	info, err := s.opts.Estate.PostEstateInfo(r.Context(), coords.Latitude, coords.Longitude)
	if err != nil {
		s.renderError(w, usecase.Classify("estate lookup", err))
		return
	}
	s.render(w, http.StatusOK, "estate.html", map[string]any{
		"Title":  "Estate lookup",
		"Coords": coords.String(),
		"Info":   info,
	})
}

// coordsFromForm accepts either a "coords" field as copied from Google Maps
// or separate latitude and longitude fields.
func coordsFromForm(r *http.Request) (estate.GoogleMapCoords, error) {
	if c := strings.TrimSpace(r.FormValue("coords")); c != "" {
		return estate.ParseCoords(c)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("latitude")), 64)
	if err != nil {
		return estate.GoogleMapCoords{}, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("longitude")), 64)
	if err != nil {
		return estate.GoogleMapCoords{}, err
	}
	return estate.GoogleMapCoords{Latitude: lat, Longitude: lon}, nil
}
