package xhttp

import (
	"io"
	"net/http"

	go_json "github.com/goccy/go-json"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	SetHeaderContentTypeApplicationJSON(w)
	w.WriteHeader(status)
	_ = go_json.NewEncoder(w).Encode(data)
}

func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

func WriteText(w http.ResponseWriter, status int, body string) {
	SetHeaderContentTypeTextPlain(w)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
