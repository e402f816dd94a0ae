package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	})
	mux.HandleFunc("/components", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"components":["Button","Card"],"count":2}`)
	})
	mux.HandleFunc("/components/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/components/Button":
			_, _ = io.WriteString(w, `{"component_name":"Button","content":"# Button"}`)
		case "/components/Date%20Picker/exists":
			_, _ = io.WriteString(w, `{"exists":true}`)
		case "/components/Ghost/exists":
			_, _ = io.WriteString(w, `{"exists":false}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Component 'Ghost' not found"}`)
		}
	})
	mux.HandleFunc("/components/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"missing file"}`)
			return
		}
		defer file.Close()
		if header.Header.Get("Content-Type") != "text/markdown" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"detail":"wrong content type"}`)
			return
		}
		if header.Filename == "Button-1.0.0.md" {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"detail":"Component file already exists"}`)
			return
		}
		body, _ := io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":        "Component uploaded successfully",
			"component_name": "Card",
			"filename":       header.Filename + ":" + string(body),
		})
	})
	mux.HandleFunc("/prompts/metadata-generation", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "# Generate metadata\nDescribe the component.")
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "oops")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReadsComponents(t *testing.T) {
	srv := newTestService(t)
	client := NewClient(srv.URL + "/")
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)
	require.True(t, client.Healthy(ctx))

	list, err := client.ListComponents(ctx)
	require.NoError(t, err)
	require.Equal(t, ComponentList{Components: []string{"Button", "Card"}, Count: 2}, list)

	content, err := client.ComponentContent(ctx, "Button")
	require.NoError(t, err)
	require.Equal(t, "# Button", content.Content)

	exists, err := client.ComponentExists(ctx, "Date Picker")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = client.ComponentExists(ctx, "Ghost")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestClientStatusErrorCarriesDetail(t *testing.T) {
	srv := newTestService(t)
	client := NewClient(srv.URL)

	_, err := client.ComponentContent(context.Background(), "Ghost")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Equal(t, "Component 'Ghost' not found", statusErr.Detail)
	require.Equal(t, "HTTP 404: Component 'Ghost' not found", err.Error())

	_, err = client.Raw(context.Background(), "/broken")
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "HTTP 500: Internal Server Error", err.Error())
}

func TestClientRequiresComponentName(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.ComponentContent(context.Background(), "  ")
	require.ErrorIs(t, err, ErrNameRequired)
	_, err = client.ComponentExists(context.Background(), "")
	require.ErrorIs(t, err, ErrNameRequired)
}

func TestClientRawFallsBackToString(t *testing.T) {
	srv := newTestService(t)
	client := NewClient(srv.URL)

	raw, err := client.Raw(context.Background(), "/components")
	require.NoError(t, err)
	require.JSONEq(t, `{"components":["Button","Card"],"count":2}`, string(raw))

	raw, err = client.Raw(context.Background(), "/prompts/metadata-generation")
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(raw, &text))
	require.Equal(t, "# Generate metadata\nDescribe the component.", text)

	prompt, err := client.MetadataPrompt(context.Background())
	require.NoError(t, err)
	require.Equal(t, text, prompt)
}

func TestClientUpload(t *testing.T) {
	srv := newTestService(t)
	client := NewClient(srv.URL)

	result, err := client.Upload(context.Background(), "Card-2.0.0.md", "# Card")
	require.NoError(t, err)
	require.Equal(t, "Card", result.ComponentName)
	require.Equal(t, "Card-2.0.0.md:# Card", result.Filename)

	_, err = client.Upload(context.Background(), "Button-1.0.0.md", "# Button")
	require.EqualError(t, err, "Component file already exists")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusConflict, statusErr.Code)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url)
	client.Timeout = 500 * time.Millisecond
	require.False(t, client.Healthy(context.Background()))
	_, err := client.Health(context.Background())
	require.ErrorContains(t, err, "Request failed")
}
