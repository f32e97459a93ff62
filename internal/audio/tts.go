package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	ttsRequestTimeout = 10 * time.Second
	googleTTSEndpoint = "https://translate.google.com/translate_tts"
)

// TTSService turns approved messages into MP3 files served from the static directory
type TTSService struct {
	audioDir  string
	urlPrefix string
	endpoint  string
	client    *http.Client
}

// NewTTSService creates a new TTS service writing into audioDir. Files are
// published under urlPrefix (for example "/static/audio").
func NewTTSService(audioDir, urlPrefix string) *TTSService {
	return &TTSService{
		audioDir:  audioDir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		endpoint:  googleTTSEndpoint,
		client:    &http.Client{Timeout: ttsRequestTimeout},
	}
}

// Synthesize converts text to speech for one turn and returns the filename
// (not full path). A partial file is never left behind.
func (s *TTSService) Synthesize(ctx context.Context, turnID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("failed to generate audio: empty text")
	}
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audio directory: %w", err)
	}

	filename := fmt.Sprintf("turn_%s.mp3", sanitizeName(turnID))
	target := filepath.Join(s.audioDir, filename)

	// Check if file already exists
	if _, err := os.Stat(target); err == nil {
		return filename, nil
	}

	tmp := target + ".part"
	if err := s.generateUsingGoogleTTS(ctx, text, tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to generate audio: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish audio file: %w", err)
	}

	return filename, nil
}

// URL returns the public URL of a generated file
func (s *TTSService) URL(filename string) string {
	return path.Join(s.urlPrefix, filename)
}

// generateUsingGoogleTTS uses Google Translate's text-to-speech API
func (s *TTSService) generateUsingGoogleTTS(ctx context.Context, text, outputPath string) error {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("q", text)
	params.Set("tl", "en")
	params.Set("client", "tw-ob")
	params.Set("textlen", fmt.Sprintf("%d", len(text)))

	ctx, cancel := context.WithTimeout(ctx, ttsRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set user agent (required by Google)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, resp.Body); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	return outFile.Close()
}

// DeleteAudioFile removes an audio file
func (s *TTSService) DeleteAudioFile(filename string) error {
	target := filepath.Join(s.audioDir, filepath.Base(filename))

	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil // Already deleted
	}

	return os.Remove(target)
}

// PruneOlderThan removes generated MP3 files last modified before cutoff
// and returns how many were removed
func (s *TTSService) PruneOlderThan(cutoff time.Time) (int, error) {
	files, err := os.ReadDir(s.audioDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read audio directory: %w", err)
	}

	removed := 0
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".mp3" {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.audioDir, file.Name())); err == nil {
			removed++
		}
	}

	return removed, nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
