package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// CohereProvider generates embeddings through Cohere's v2 embed API.
type CohereProvider struct {
	apiKey     string
	baseURL    string
	model      string
	inputType  string
	dimensions int
	httpClient *http.Client
}

type cohereEmbedRequest struct {
	Model           string   `json:"model"`
	InputType       string   `json:"input_type"`
	Texts           []string `json:"texts,omitempty"`
	OutputDimension int      `json:"output_dimension,omitempty"`
	EmbeddingTypes  []string `json:"embedding_types,omitempty"`
	Truncate        string   `json:"truncate,omitempty"`
}

type cohereEmbedResponse struct {
	ID         string `json:"id"`
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Texts []string `json:"texts"`
}

type CohereOption func(*CohereProvider)

// WithCohereBaseURL sets a custom base URL for the Cohere API
func WithCohereBaseURL(baseURL string) CohereOption {
	return func(p *CohereProvider) {
		p.baseURL = baseURL
	}
}

// WithCohereInputType sets the input type for the embeddings
func WithCohereInputType(inputType string) CohereOption {
	return func(p *CohereProvider) {
		p.inputType = inputType
	}
}

func NewCohereProvider(apiKey, model string, dimensions int, options ...CohereOption) *CohereProvider {
	provider := &CohereProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.cohere.com/v2/embed",
		model:      model,
		inputType:  "search_document",
		dimensions: dimensions,
		httpClient: &http.Client{},
	}
	for _, option := range options {
		option(provider)
	}
	return provider
}

func (p *CohereProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("no embeddings returned from Cohere API")
	}
	return embeddings[0], nil
}

func (p *CohereProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	request := cohereEmbedRequest{
		Model:          p.model,
		InputType:      p.inputType,
		Texts:          texts,
		EmbeddingTypes: []string{"float"},
		Truncate:       "END",
	}
	if p.dimensions > 0 {
		request.OutputDimension = p.dimensions
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "marshal embed request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrap(err, "create embed request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send embed request")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		var errorResponse map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&errorResponse); err == nil {
			return nil, errors.Errorf("cohere API error (status %d): %v", resp.StatusCode, errorResponse)
		}
		return nil, errors.Errorf("cohere API error (status %d)", resp.StatusCode)
	}

	var response cohereEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, errors.Wrap(err, "decode embed response")
	}
	if len(response.Embeddings.Float) == 0 {
		return nil, errors.New("no float embeddings in response")
	}

	return response.Embeddings.Float, nil
}

func (p *CohereProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       p.model,
		Dimensions: p.dimensions,
	}
}

var _ Provider = &CohereProvider{}
