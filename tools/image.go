package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"polychat/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const maxImages = 4

// ImageGenerator produces images for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, n int) ([]model.Attachment, error)
	// Describe names the provider, model and size for the result summary.
	Describe() (provider, modelName, size string)
}

func (r *Registry) generateImage(ctx context.Context, arguments string, _ Env) (Result, error) {
	var args model.ImageArgs
	if err := decodeArgs(model.ToolImageGenerate, arguments, &args); err != nil {
		return argsFailure(model.ToolImageGenerate, err)
	}

	if r.images == nil {
		return Result{Text: "Error: No image provider"}, nil
	}
	prompt := strings.TrimSpace(args.Prompt)
	if prompt == "" {
		return Result{Text: "Error: prompt is required"}, nil
	}
	n := min(max(args.N, 1), maxImages)

	images, err := r.images.Generate(ctx, prompt, n)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolImageGenerate), err)
	}

	provider, modelName, size := r.images.Describe()
	text := fmt.Sprintf("Generated %d image(s) with %s (model: %s, size: %s) for prompt: %s",
		len(images), provider, modelName, size, prompt)
	return Result{Text: text, Attachments: images}, nil
}

// OpenAIImages generates images through an OpenAI-compatible Images API.
type OpenAIImages struct {
	client   openai.Client
	provider string
	model    string
	size     string
	http     *http.Client
}

// NewOpenAIImages creates an image client for the configured provider.
func NewOpenAIImages(opts ImageOptions) *OpenAIImages {
	modelName := opts.Model
	if modelName == "" {
		modelName = opts.Provider.DefaultImageModel
	}
	if modelName == "" {
		modelName = "gpt-image-1"
	}
	size := opts.Size
	if size == "" {
		size = "1024x1024"
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.Provider.APIKey)}
	if opts.Provider.Host != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.Provider.Host))
	}

	name := opts.Provider.Name
	if name == "" {
		name = opts.Provider.ID
	}
	return &OpenAIImages{
		client:   openai.NewClient(reqOpts...),
		provider: name,
		model:    modelName,
		size:     size,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Describe implements ImageGenerator.
func (g *OpenAIImages) Describe() (string, string, string) {
	return g.provider, g.model, g.size
}

// Generate implements ImageGenerator. Images returned by URL are downloaded.
func (g *OpenAIImages) Generate(ctx context.Context, prompt string, n int) ([]model.Attachment, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(g.model),
		N:      openai.Int(int64(n)),
		Size:   openai.ImageGenerateParamsSize(g.size),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("image provider rejected the request (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("image request: %w", err)
	}

	out := make([]model.Attachment, 0, len(resp.Data))
	for i, img := range resp.Data {
		var data []byte
		switch {
		case img.B64JSON != "":
			data, err = base64.StdEncoding.DecodeString(img.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode image %d: %w", i+1, err)
			}
		case img.URL != "":
			data, err = g.download(ctx, img.URL)
			if err != nil {
				return nil, fmt.Errorf("download image %d: %w", i+1, err)
			}
		default:
			continue
		}
		mimeType := http.DetectContentType(data)
		out = append(out, model.Attachment{
			Name:     fmt.Sprintf("image-%d-%d%s", time.Now().Unix(), i+1, imageExt(mimeType)),
			MIMEType: mimeType,
			Data:     data,
		})
	}
	if len(out) == 0 {
		return nil, errors.New("image provider returned no images")
	}
	return out, nil
}

func (g *OpenAIImages) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
