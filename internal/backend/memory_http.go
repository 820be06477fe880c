package backend

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxUploadBytes bounds one uploaded blob.
const maxUploadBytes = 32 << 20

// Handler serves the upload and asset URLs handed out after SetBaseURL:
//
//	POST {base}/upload/{token}   stores the body, replies {"assetId": "..."}
//	GET  {base}/assets/{id}      returns a stored blob
func (m *Memory) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/{token}", m.serveUpload)
	mux.HandleFunc("GET /assets/{id}", m.serveAsset)
	return mux
}

func (m *Memory) serveUpload(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	m.mu.Lock()
	url := m.baseURL + "upload/" + r.PathValue("token")
	m.mu.Unlock()

	res, err := m.Upload(r.Context(), url, blob, r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (m *Memory) serveAsset(w http.ResponseWriter, r *http.Request) {
	blob, ok := m.Asset(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(blob))
	_, _ = w.Write(blob)
}
