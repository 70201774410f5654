package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_SendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer srv.Close()

	c := NewClient("TESTTOKEN", srv.URL)
	id, err := c.SendMessage(context.Background(), 555, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 42 {
		t.Errorf("message id = %d, want 42", id)
	}
	if gotPath != "/botTESTTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != float64(555) || gotBody["text"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
	if _, ok := gotBody["reply_markup"]; ok {
		t.Error("reply_markup should be omitted without a keyboard")
	}
}

func TestClient_SendMessageWithKeyboard(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	kb := &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: "Approve", CallbackData: "approve:1"}},
		},
	}
	c := NewClient("t", srv.URL)
	if _, err := c.SendMessage(context.Background(), 1, "x", kb); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := gotBody["reply_markup"]; !ok {
		t.Error("reply_markup missing")
	}
}

func TestClient_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := NewClient("t", srv.URL)
	if err := c.DeleteMessage(context.Background(), 1, 2); err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_AnswerCallbackQuery(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	c := NewClient("t", srv.URL)
	if err := c.AnswerCallbackQuery(context.Background(), "q1", "done", true); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if gotBody["callback_query_id"] != "q1" || gotBody["show_alert"] != true {
		t.Errorf("body = %v", gotBody)
	}
}
