package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// QueryInput is the body of the insight, intent and greeting endpoints.
type QueryInput struct {
	Query       string `json:"query"`
	ChatHistory string `json:"chat_history"`
	RequestID   string `json:"request_id"`
}

// ChatHistoryInput is the body of the topic and recommendation endpoints.
type ChatHistoryInput struct {
	ChatHistory string `json:"chat_history"`
}

// TextResponse wraps a single generated text.
type TextResponse struct {
	Output string `json:"output"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryInput, bool) {
	var in QueryInput
	if !decodeBody(w, r, &in) {
		return in, false
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query is required")
		return in, false
	}
	return in, true
}

// GetInsight handles POST /CFU_Insight/get_insight_api.
func (h *Handlers) GetInsight(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.runInsight(r.Context(), in.Query, in.ChatHistory, in.RequestID)
	if err != nil {
		writeError(w, StatusFor(err), h.internalError("Failed to generate insight", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTopic handles POST /CFU_Insight/get_topic.
func (h *Handlers) GetTopic(w http.ResponseWriter, r *http.Request) {
	var in ChatHistoryInput
	if !decodeBody(w, r, &in) {
		return
	}
	topic, err := h.svc.GenerateTopic(r.Context(), in.ChatHistory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, h.internalError("Failed to generate topic", err))
		return
	}
	writeJSON(w, http.StatusOK, TextResponse{Output: topic})
}

// GetRecommendation handles POST /CFU_Insight/get_recommendation_question.
func (h *Handlers) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	var in ChatHistoryInput
	if !decodeBody(w, r, &in) {
		return
	}
	question, err := h.svc.RecommendQuestion(r.Context(), in.ChatHistory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, h.internalError("Failed to generate recommendation", err))
		return
	}
	writeJSON(w, http.StatusOK, TextResponse{Output: question})
}

// RecognizeIntent handles POST /CFU_Insight/recognize_intent.
func (h *Handlers) RecognizeIntent(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.RecognizeIntent(r.Context(), in.Query))
}

// Greet handles POST /CFU_Insight/greeting.
func (h *Handlers) Greet(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Greet(r.Context(), in.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, h.internalError("Failed to generate greeting", err))
		return
	}
	writeJSON(w, http.StatusOK, TextResponse{Output: out})
}

// Health handles GET /ht.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
