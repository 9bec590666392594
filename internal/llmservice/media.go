package llmservice

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/image/draw"

	"rag-portal/internal/config"
	"rag-portal/internal/helper"
)

const (
	thumbnailSize = 512
	imagesDir     = "images"
	audioDir      = "audio"
)

// MediaClient talks to the OpenAI image and audio endpoints and stores the
// results below the media root.
type MediaClient struct {
	client     *openai.Client
	httpClient *http.Client
	cfg        config.OpenAIConfig
	mediaRoot  string
}

func NewMediaClient(cfg config.OpenAIConfig, mediaRoot string, httpClient *http.Client) *MediaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	clientCfg := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClient
	return &MediaClient{
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		cfg:        cfg,
		mediaRoot:  mediaRoot,
	}
}

// MediaRoot is the directory relative paths resolve against.
func (c *MediaClient) MediaRoot() string {
	return c.mediaRoot
}

// GenerateImage creates an image for prompt, shrinks it to 512x512 and saves
// it as JPEG. The returned path is relative to the media root.
func (c *MediaClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.cfg.ImageModel,
		N:              1,
		Size:           c.cfg.ImageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", ErrEmptyResponse
	}

	var raw []byte
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		raw, err = base64.StdEncoding.DecodeString(b64)
	} else {
		raw, err = c.download(ctx, resp.Data[0].URL)
	}
	if err != nil {
		return "", err
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, thumbnailSize, thumbnailSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	name, err := helper.RandomHex(16)
	if err != nil {
		return "", err
	}
	rel := filepath.Join(imagesDir, name+".jpg")
	f, err := c.create(rel)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	log.Debug().Str("path", rel).Msg("Saved generated image")
	return rel, nil
}

// Speak synthesizes text to an mp3 file and returns its relative path.
func (c *MediaClient) Speak(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	name, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	rel := filepath.Join(audioDir, name+".mp3")
	f, err := c.create(rel)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp); err != nil {
		return "", fmt.Errorf("save speech: %w", err)
	}
	return rel, nil
}

// Transcribe converts the audio file at path (relative to the media root or
// absolute) to text.
func (c *MediaClient) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscribeModel,
		FilePath: c.Resolve(path),
	})
	if err != nil {
		return "", fmt.Errorf("create transcription: %w", err)
	}
	return resp.Text, nil
}

// SaveAudio stores r below the audio folder as name and returns the relative
// path.
func (c *MediaClient) SaveAudio(r io.Reader, name string) (string, error) {
	rel := filepath.Join(audioDir, filepath.Base(name))
	f, err := c.create(rel)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("save audio: %w", err)
	}
	return rel, nil
}

// Resolve maps a media relative path to a filesystem path.
func (c *MediaClient) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.mediaRoot, path)
}

func (c *MediaClient) create(rel string) (*os.File, error) {
	full := c.Resolve(rel)
	if err := helper.CreateFolder(filepath.Dir(full)); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}
	return f, nil
}

func (c *MediaClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MP3Duration decodes the mp3 at path and returns its playing time.
func MP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	// the decoder always yields 16 bit stereo samples
	const bytesPerSample = 4
	samples := dec.Length() / bytesPerSample
	if samples <= 0 || dec.SampleRate() <= 0 {
		return 0, fmt.Errorf("decode mp3: unknown length")
	}
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}
