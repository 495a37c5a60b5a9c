package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/abadojack/whatlanggo"
)

// Config holds the connection settings of one OpenAI-compatible provider.
type Config struct {
	Name        string
	APIKey      string
	APIURL      string
	AudioModel  string
	ChatModel   string
	Timeout     int
	Temperature float64
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	return nil
}

// Provider implements Engine against an OpenAI-compatible HTTP API:
// audio/transcriptions for speech-to-text and chat/completions for the
// correction and speaker-identification passes.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider configuration: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	if cfg.AudioModel == "" {
		cfg.AudioModel = "whisper-1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}

	return &Provider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe uploads the audio as multipart form data and returns the raw
// transcript.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts Options) (Result, error) {
	fileName := opts.FileName
	if fileName == "" {
		fileName = "audio"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", p.cfg.AudioModel); err != nil {
		return Result{}, err
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return Result{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Result{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s: transcription request failed: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("%s: transcription API status %d: %s", p.cfg.Name, resp.StatusCode, string(b))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Result{}, fmt.Errorf("%s: failed to parse transcription response: %w", p.cfg.Name, err)
	}

	lang := tr.Language
	if lang == "" {
		lang = detectLanguage(tr.Text)
	}
	return Result{Text: tr.Text, Language: lang, Provider: p.cfg.Name}, nil
}

// Correct asks the chat model to fix recognition mistakes and punctuation
// without changing meaning. The transcript language is detected first so the
// model answers in the same language.
func (p *Provider) Correct(ctx context.Context, text string) (string, error) {
	lang := detectLanguage(text)
	prompt := "You are an expert transcript editor. Fix speech recognition errors, " +
		"punctuation and casing in the following transcript without changing its meaning. " +
		"Return only the corrected transcript."
	if lang != "" {
		prompt += fmt.Sprintf(" The transcript language is %q; answer in the same language.", lang)
	}
	return p.chatComplete(ctx, prompt, text)
}

// IdentifySpeakers asks the chat model to label speaker turns.
func (p *Provider) IdentifySpeakers(ctx context.Context, text string) (string, error) {
	prompt := "You are an expert at analyzing conversation transcripts. Split the " +
		"following transcript into speaker turns and label each turn as 'Speaker 1:', " +
		"'Speaker 2:' and so on. Keep the wording untouched. Return only the labeled transcript."
	return p.chatComplete(ctx, prompt, text)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) chatComplete(ctx context.Context, systemPrompt, userText string) (string, error) {
	payload := chatRequest{
		Model: p.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userText},
		},
		Temperature: p.cfg.Temperature,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: chat request failed: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(responseBody, &cr); err != nil {
		return "", fmt.Errorf("%s: failed to parse chat response: %w", p.cfg.Name, err)
	}
	if cr.Error != nil && cr.Error.Message != "" {
		return "", fmt.Errorf("%s: chat API error: %s", p.cfg.Name, cr.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: chat API status %d: %s", p.cfg.Name, resp.StatusCode, string(responseBody))
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in chat response", p.cfg.Name)
	}
	return cr.Choices[0].Message.Content, nil
}

func detectLanguage(text string) string {
	if text == "" {
		return ""
	}
	return whatlanggo.DetectLang(text).Iso6391()
}
