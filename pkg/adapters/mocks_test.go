package adapters

import (
	"context"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// --- Mocks ---

// mockImageModel は ImageModel のテスト用モックです。
type mockImageModel struct {
	generateFunc func(model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

func (m *mockImageModel) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	if m.generateFunc != nil {
		return m.generateFunc(model, parts, opts)
	}
	return nil, nil
}

type postCall struct {
	url         string
	body        []byte
	contentType string
	data        any
}

// mockHTTPClient は HTTPClient のテスト用モックです。
type mockHTTPClient struct {
	fetchFunc    func(url string) ([]byte, error)
	postRawFunc  func(url string, body []byte, contentType string) ([]byte, error)
	postJSONFunc func(url string, data any) ([]byte, error)
	fetched      []string
	posts        []postCall
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.fetched = append(m.fetched, url)
	if m.fetchFunc != nil {
		return m.fetchFunc(url)
	}
	return []byte("ok"), nil
}

func (m *mockHTTPClient) PostJSONAndFetchBytes(ctx context.Context, url string, data any) ([]byte, error) {
	m.posts = append(m.posts, postCall{url: url, data: data})
	if m.postJSONFunc != nil {
		return m.postJSONFunc(url, data)
	}
	return nil, nil
}

func (m *mockHTTPClient) PostRawBodyAndFetchBytes(ctx context.Context, url string, body []byte, contentType string) ([]byte, error) {
	m.posts = append(m.posts, postCall{url: url, body: body, contentType: contentType})
	if m.postRawFunc != nil {
		return m.postRawFunc(url, body, contentType)
	}
	return nil, nil
}

// imageResponse は 1 枚の画像を含む Gemini のレスポンスを作ります。
func imageResponse(mimeType string, data []byte) *gemini.Response {
	return &gemini.Response{
		RawResponse: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}},
				},
			}},
		},
	}
}
