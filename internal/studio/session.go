// Package studio holds the conversation state behind the image studio: the
// chat history, the uploaded seed image, which image is active, and the
// single-flight guard around generation requests.
//
// The active image is never stored. It is computed from the message list,
// the selected message id and the seed, so the three can never disagree.
package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"studio-backend/internal/models"
)

// UploadImageID identifies the seed image when it is the active image.
const UploadImageID = "upload"

// IntroText is the greeting every session starts with and returns to on Reset.
const IntroText = "Hi, I am your generative design partner. Describe what you want to see or how to tweak the current image, and I will regenerate it live for you."

const defaultErrorMessage = "Unexpected error occurred."

var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrBusy            = errors.New("a generation request is already in progress")
	ErrImageNotFound   = errors.New("image not found in session")
	ErrEmptySeed       = errors.New("seed image is empty")
	ErrInvalidSettings = errors.New("unsupported image settings")
	ErrEmptyResponse   = errors.New("Failed to generate image.")
)

// AspectRatios and ImageSizes are the hints a session accepts.
var (
	AspectRatios = []string{"1:1", "3:2", "2:3", "16:9", "9:16", "4:3", "3:4", "21:9"}
	ImageSizes   = []string{"1K", "2K", "4K"}
)

// Generator produces one image per call.
type Generator interface {
	Generate(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error)
}

// Notifier receives a snapshot after every state change.
type Notifier interface {
	Notify(sessionID string, snap models.SessionSnapshot)
}

// SessionCloser is an optional Notifier extension. SessionClosed is called
// once a session is deleted, evicted or expired, so per-session resources
// such as open sockets can be released.
type SessionCloser interface {
	SessionClosed(sessionID string)
}

type RequestState int

const (
	StateIdle RequestState = iota
	StatePending
	StateError
)

func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one chat turn. Messages are never edited after creation.
type Message struct {
	ID          string
	Role        models.ChatRole
	Text        string
	ImageBase64 string
	CreatedAt   time.Time
}

type Settings struct {
	AspectRatio string
	ImageSize   string
}

// DefaultSettings mirrors the studio's initial selections.
func DefaultSettings() Settings {
	return Settings{AspectRatio: "1:1", ImageSize: "1K"}
}

var (
	validate        = validator.New()
	aspectRatioRule = "omitempty,oneof=" + strings.Join(AspectRatios, " ")
	imageSizeRule   = "omitempty,oneof=" + strings.Join(ImageSizes, " ")
)

// Validate accepts empty values, which mean "let the model decide".
func (s Settings) Validate() error {
	if err := validate.Var(s.AspectRatio, aspectRatioRule); err != nil {
		return ErrInvalidSettings
	}
	if err := validate.Var(s.ImageSize, imageSizeRule); err != nil {
		return ErrInvalidSettings
	}
	return nil
}

// Session is safe for concurrent use. Generation runs outside the lock so
// selection, uploads and snapshots stay responsive while a request is pending.
//
// notifyMu is taken before mu and held until the snapshot has been delivered,
// so observers see changes in the order they were made.
type Session struct {
	notifyMu sync.Mutex
	mu       sync.Mutex
	id       string
	gen      Generator
	notifier Notifier
	now      func() time.Time
	newID    func() string

	messages   []Message
	selectedID string
	seed       string
	settings   Settings
	state      RequestState
	lastErr    string
	version    uint64
}

func NewSession(id string, gen Generator, notifier Notifier) *Session {
	s := &Session{
		id:       id,
		gen:      gen,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
		settings: DefaultSettings(),
	}
	s.messages = []Message{s.introMessage()}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) introMessage() Message {
	return Message{ID: "intro", Role: models.RoleAssistant, Text: IntroText, CreatedAt: s.now()}
}

// Submit sends prompt to the generator using the current history and active
// image. Only one request runs at a time; a submit while one is pending
// returns ErrBusy and changes nothing. On failure the user message stays in
// the history, no reply is added and the session moves to StateError.
func (s *Session) Submit(ctx context.Context, prompt string) (*Message, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return nil, ErrEmptyPrompt
	}

	var req models.GenerateImageRequest
	err := s.update(func() error {
		if s.state == StatePending {
			return ErrBusy
		}
		s.state = StatePending
		s.lastErr = ""

		s.messages = append(s.messages, Message{
			ID:        s.newID(),
			Role:      models.RoleUser,
			Text:      trimmed,
			CreatedAt: s.now(),
		})

		req = models.GenerateImageRequest{
			Prompt:      trimmed,
			History:     s.historyLocked(),
			AspectRatio: s.settings.AspectRatio,
			ImageSize:   s.settings.ImageSize,
		}
		if active := s.activeImageLocked(); active != nil {
			req.BaseImage = active.ImageBase64
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.gen.Generate(ctx, req)
	if err == nil && (resp == nil || resp.ImageBase64 == "") {
		err = ErrEmptyResponse
	}

	if err != nil {
		s.update(func() error {
			s.state = StateError
			s.lastErr = errorMessage(err)
			return nil
		})
		return nil, err
	}

	var assistantMsg Message
	s.update(func() error {
		assistantMsg = Message{
			ID:          s.newID(),
			Role:        models.RoleAssistant,
			Text:        resp.AltText,
			ImageBase64: resp.ImageBase64,
			CreatedAt:   s.now(),
		}
		s.messages = append(s.messages, assistantMsg)
		s.selectedID = assistantMsg.ID
		s.seed = ""
		s.state = StateIdle
		return nil
	})

	return &assistantMsg, nil
}

// SelectImage makes a generated image from the history the active one and drops the seed.
func (s *Session) SelectImage(id string) error {
	return s.update(func() error {
		if _, ok := s.findImageLocked(id); !ok {
			return ErrImageNotFound
		}
		s.selectedID = id
		s.seed = ""
		return nil
	})
}

// UploadSeed stores a user-provided base image. Anything up to the last comma
// (a data-URI header) is dropped.
func (s *Session) UploadSeed(imageBase64 string) error {
	if i := strings.LastIndex(imageBase64, ","); i >= 0 {
		imageBase64 = imageBase64[i+1:]
	}
	imageBase64 = strings.TrimSpace(imageBase64)
	if imageBase64 == "" {
		return ErrEmptySeed
	}

	return s.update(func() error {
		s.seed = imageBase64
		s.selectedID = ""
		return nil
	})
}

func (s *Session) ClearSeed() {
	s.update(func() error {
		s.seed = ""
		return nil
	})
}

func (s *Session) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return s.update(func() error {
		s.settings = settings
		return nil
	})
}

// Reset returns the conversation to the greeting. A pending request is not
// cancelled; its result lands in the fresh history.
func (s *Session) Reset() {
	s.update(func() error {
		s.messages = []Message{s.introMessage()}
		s.selectedID = ""
		s.seed = ""
		s.lastErr = ""
		if s.state == StateError {
			s.state = StateIdle
		}
		return nil
	})
}

// update applies fn under the state lock. When fn succeeds the version is
// bumped and the resulting snapshot is delivered before the next update starts.
func (s *Session) update(fn func() error) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.Notify(s.id, snap)
	}
	return nil
}

// ActiveImage returns the seed if one is uploaded, otherwise the selected
// image, otherwise the newest generated image. Nil when there is none.
func (s *Session) ActiveImage() *models.ActiveImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeImageLocked()
}

// Messages returns a copy of the history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Gallery returns the assistant messages that carry an image, oldest first.
func (s *Session) Gallery() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.galleryLocked()
}

// History is the context sent with the next request: role and text only.
func (s *Session) History() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

func (s *Session) State() RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the message of the last failed submit, or "".
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) activeImageLocked() *models.ActiveImage {
	if s.seed != "" {
		return &models.ActiveImage{ID: UploadImageID, ImageBase64: s.seed}
	}
	if s.selectedID == "" {
		gallery := s.galleryLocked()
		if len(gallery) == 0 {
			return nil
		}
		last := gallery[len(gallery)-1]
		return &models.ActiveImage{ID: last.ID, ImageBase64: last.ImageBase64}
	}
	if m, ok := s.findImageLocked(s.selectedID); ok {
		return &models.ActiveImage{ID: m.ID, ImageBase64: m.ImageBase64}
	}
	return nil
}

func (s *Session) galleryLocked() []Message {
	var out []Message
	for _, m := range s.messages {
		if m.Role == models.RoleAssistant && m.ImageBase64 != "" {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) findImageLocked(id string) (Message, bool) {
	for _, m := range s.messages {
		if m.ID == id && m.Role == models.RoleAssistant && m.ImageBase64 != "" {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Session) historyLocked() []models.HistoryEntry {
	history := make([]models.HistoryEntry, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Text == "" {
			continue
		}
		history = append(history, models.HistoryEntry{Role: m.Role, Text: m.Text})
	}
	return history
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	msgs := make([]models.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = models.ChatMessage{
			ID:          m.ID,
			Role:        m.Role,
			Text:        m.Text,
			ImageBase64: m.ImageBase64,
			CreatedAt:   m.CreatedAt.UnixMilli(),
		}
	}
	return models.SessionSnapshot{
		ID:          s.id,
		Messages:    msgs,
		ActiveImage: s.activeImageLocked(),
		HasSeed:     s.seed != "",
		Settings: models.SessionSettings{
			AspectRatio: s.settings.AspectRatio,
			ImageSize:   s.settings.ImageSize,
		},
		State:   s.state.String(),
		Error:   s.lastErr,
		Version: s.version,
	}
}

func errorMessage(err error) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return defaultErrorMessage
}
