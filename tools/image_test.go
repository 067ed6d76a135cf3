package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polychat/model"
)

type fakeImages struct {
	gotN int
	err  error
}

func (f *fakeImages) Generate(_ context.Context, _ string, n int) ([]model.Attachment, error) {
	f.gotN = n
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Attachment, n)
	for i := range out {
		out[i] = model.Attachment{Name: "img.png", MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	}
	return out, nil
}

func (f *fakeImages) Describe() (string, string, string) { return "Fake", "fake-image", "512x512" }

func TestImageGenerateWithoutProvider(t *testing.T) {
	r := NewRegistry(Options{})
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolImageGenerate, `{"prompt":"a cat","n":2}`), Env{})
	if err != nil {
		t.Fatalf("expected text result, got %v", err)
	}
	if res.Text != "Error: No image provider" {
		t.Errorf("unexpected text: %q", res.Text)
	}
	if len(res.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(res.Attachments))
	}
}

func TestImageGenerateClampsCount(t *testing.T) {
	tests := []struct {
		args  string
		wantN int
	}{
		{`{"prompt":"a cat","n":2}`, 2},
		{`{"prompt":"a cat"}`, 1},
		{`{"prompt":"a cat","n":0}`, 1},
		{`{"prompt":"a cat","n":12}`, maxImages},
	}

	for _, tt := range tests {
		fake := &fakeImages{}
		r := NewRegistry(Options{Images: fake})
		res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolImageGenerate, tt.args), Env{})
		if err != nil {
			t.Fatalf("%s: %v", tt.args, err)
		}
		if fake.gotN != tt.wantN || len(res.Attachments) != tt.wantN {
			t.Errorf("%s: requested %d, got %d attachments (want %d)", tt.args, fake.gotN, len(res.Attachments), tt.wantN)
		}
		if !strings.Contains(res.Text, "Fake") || !strings.Contains(res.Text, "fake-image") || !strings.Contains(res.Text, "512x512") {
			t.Errorf("summary should name provider, model and size: %q", res.Text)
		}
	}
}

func TestImageGenerateProviderFailurePropagates(t *testing.T) {
	r := NewRegistry(Options{Images: &fakeImages{err: errors.New("content policy violation")}})
	_, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolImageGenerate, `{"prompt":"x","n":1}`), Env{})
	if !errors.Is(err, model.ErrToolExecution) {
		t.Fatalf("expected ErrToolExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "content policy violation") {
		t.Errorf("vendor message lost: %v", err)
	}
}

func TestOpenAIImagesDecodesAndDownloads(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] != "a cat" || body["n"] != float64(2) {
			t.Errorf("unexpected request body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data": []map[string]any{
				{"b64_json": base64.StdEncoding.EncodeToString(png)},
				{"url": server.URL + "/files/cat.png"},
			},
		})
	})
	mux.HandleFunc("/files/cat.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(png)
	})

	gen := NewOpenAIImages(ImageOptions{
		Provider: model.ProviderRecord{ID: "openai", Name: "OpenAI", Host: server.URL, APIKey: "sk-test", Vendor: model.VendorOpenAI},
	})
	images, err := gen.Generate(context.Background(), "a cat", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	for _, img := range images {
		if img.MIMEType != "image/png" || string(img.Data) != string(png) {
			t.Errorf("unexpected image %s (%s, %d bytes)", img.Name, img.MIMEType, len(img.Data))
		}
	}
	if p, m, _ := gen.Describe(); p != "OpenAI" || m != "gpt-image-1" {
		t.Errorf("Describe() = %s, %s", p, m)
	}
}
