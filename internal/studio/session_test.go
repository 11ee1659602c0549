package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studio-backend/internal/models"
)

// stubGenerator records requests and answers from a queue of results.
type stubGenerator struct {
	mu       sync.Mutex
	requests []models.GenerateImageRequest
	calls    atomic.Int32
	resp     *models.GenerateImageResponse
	err      error

	started chan struct{}
	release chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	return g.resp, g.err
}

func (g *stubGenerator) lastRequest(t *testing.T) models.GenerateImageRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("generator was never called")
	}
	return g.requests[len(g.requests)-1]
}

type recordingNotifier struct {
	mu       sync.Mutex
	states   []string
	versions []uint64
}

func (n *recordingNotifier) Notify(sessionID string, snap models.SessionSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, snap.State)
	n.versions = append(n.versions, snap.Version)
}

func newTestSession(gen Generator) *Session {
	s := NewSession("test", gen, nil)
	counter := 0
	s.newID = func() string {
		counter++
		return fmt.Sprintf("msg-%d", counter)
	}
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	s.messages = []Message{s.introMessage()}
	return s
}

func image(data, alt string) *models.GenerateImageResponse {
	return &models.GenerateImageResponse{ImageBase64: data, AltText: alt}
}

func TestNewSession_StartsWithGreeting(t *testing.T) {
	s := newTestSession(&stubGenerator{})

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != models.RoleAssistant || msgs[0].Text != IntroText {
		t.Fatalf("expected intro greeting only, got %+v", msgs)
	}
	if s.ActiveImage() != nil {
		t.Fatal("expected no active image")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
	if s.Settings() != DefaultSettings() {
		t.Fatalf("expected default settings, got %+v", s.Settings())
	}
}

func TestSubmit_RejectsBlankPrompt(t *testing.T) {
	gen := &stubGenerator{resp: image("AAAA", "alt")}
	s := newTestSession(gen)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		if _, err := s.Submit(context.Background(), prompt); !errors.Is(err, ErrEmptyPrompt) {
			t.Fatalf("prompt %q: expected ErrEmptyPrompt, got %v", prompt, err)
		}
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("expected no generator calls, got %d", gen.calls.Load())
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("history must not change on blank prompt")
	}
}

func TestSubmit_Success(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "a red balloon drifting")}
	s := newTestSession(gen)

	msg, err := s.Submit(context.Background(), "  a red balloon  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Role != models.RoleAssistant || msg.ImageBase64 != "IMG1" || msg.Text != "a red balloon drifting" {
		t.Fatalf("unexpected assistant message %+v", msg)
	}

	req := gen.lastRequest(t)
	if req.Prompt != "a red balloon" {
		t.Errorf("expected trimmed prompt, got %q", req.Prompt)
	}
	if req.BaseImage != "" {
		t.Errorf("expected no base image, got %q", req.BaseImage)
	}
	if req.AspectRatio != "1:1" || req.ImageSize != "1K" {
		t.Errorf("expected default settings in request, got %q %q", req.AspectRatio, req.ImageSize)
	}
	wantHistory := []models.HistoryEntry{
		{Role: models.RoleAssistant, Text: IntroText},
		{Role: models.RoleUser, Text: "a red balloon"},
	}
	if fmt.Sprint(req.History) != fmt.Sprint(wantHistory) {
		t.Errorf("unexpected history %+v", req.History)
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected greeting, user, assistant; got %d messages", len(msgs))
	}
	active := s.ActiveImage()
	if active == nil || active.ID != msg.ID || active.ImageBase64 != "IMG1" {
		t.Fatalf("expected new image to be active, got %+v", active)
	}
	if s.State() != StateIdle || s.Err() != "" {
		t.Fatalf("expected idle without error, got %s %q", s.State(), s.Err())
	}
}

func TestSubmit_HistoryExcludesImages(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "")}
	s := newTestSession(gen)

	if _, err := s.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gen.resp = image("IMG2", "second caption")
	if _, err := s.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := gen.lastRequest(t)
	for _, h := range req.History {
		if h.Text == "" {
			t.Fatalf("history entries without text must be skipped: %+v", req.History)
		}
	}
	// greeting, "first", "second" (the captionless image message is skipped)
	if len(req.History) != 3 {
		t.Fatalf("expected 3 history entries, got %+v", req.History)
	}
	if req.BaseImage != "IMG1" {
		t.Fatalf("expected previous image as base, got %q", req.BaseImage)
	}
}

func TestSubmit_FailureKeepsUserTurnOnly(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "first")}
	s := newTestSession(gen)
	if _, err := s.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := s.Messages()
	activeBefore := s.ActiveImage()

	gen.resp = nil
	gen.err = errors.New("Image generation failed.")
	if _, err := s.Submit(context.Background(), "  second  "); err == nil {
		t.Fatal("expected error")
	}

	after := s.Messages()
	if len(after) != len(before)+1 {
		t.Fatalf("expected the user turn to stay, got %d messages want %d", len(after), len(before)+1)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("message %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	last := after[len(after)-1]
	if last.Role != models.RoleUser || last.Text != "second" || last.ImageBase64 != "" {
		t.Fatalf("expected trimmed user message last, got %+v", last)
	}
	if len(s.Gallery()) != 1 {
		t.Fatalf("no assistant image may be added on failure, got %d", len(s.Gallery()))
	}
	if s.ActiveImage().ID != activeBefore.ID {
		t.Fatalf("active image must not change on failure")
	}
	if s.State() != StateError || s.Err() != "Image generation failed." {
		t.Fatalf("expected error state with message, got %s %q", s.State(), s.Err())
	}

	// The next successful submit clears the error and carries the failed turn as context.
	gen.err = nil
	gen.resp = image("IMG2", "third")
	if _, err := s.Submit(context.Background(), "third"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != StateIdle || s.Err() != "" {
		t.Fatalf("expected idle after recovery, got %s %q", s.State(), s.Err())
	}
	var sawFailedTurn bool
	for _, h := range gen.lastRequest(t).History {
		if h.Text == "second" {
			sawFailedTurn = true
		}
	}
	if !sawFailedTurn {
		t.Fatal("expected the failed prompt in the next request's history")
	}
}

func TestSubmit_FailureKeepsSeed(t *testing.T) {
	gen := &stubGenerator{err: errors.New("boom")}
	s := newTestSession(gen)
	if err := s.UploadSeed("SEED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Submit(context.Background(), "use it")

	if active := s.ActiveImage(); active == nil || active.ID != UploadImageID {
		t.Fatalf("seed must survive a failed submit, got %+v", active)
	}
}

func TestSubmit_EmptyResponseIsFailure(t *testing.T) {
	gen := &stubGenerator{resp: &models.GenerateImageResponse{AltText: "no image"}}
	s := newTestSession(gen)

	if _, err := s.Submit(context.Background(), "p"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Role != models.RoleUser {
		t.Fatalf("expected greeting and user turn only, got %+v", msgs)
	}
}

func TestSubmit_SingleFlight(t *testing.T) {
	gen := &stubGenerator{
		resp:    image("IMG1", "done"),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := newTestSession(gen)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "first")
		done <- err
	}()

	<-gen.started
	if s.State() != StatePending {
		t.Fatalf("expected pending, got %s", s.State())
	}

	if _, err := s.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	if gen.calls.Load() != 1 {
		t.Fatalf("expected exactly one outbound request, got %d", gen.calls.Load())
	}
	for _, m := range s.Messages() {
		if m.Text == "second" {
			t.Fatal("suppressed submit must not be recorded")
		}
	}
}

func TestSeedImage_TakesPrecedence(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "first")}
	s := newTestSession(gen)
	if _, err := s.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.UploadSeed("data:image/png;base64,SEED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active := s.ActiveImage()
	if active == nil || active.ID != UploadImageID || active.ImageBase64 != "SEED" {
		t.Fatalf("expected seed to be active, got %+v", active)
	}

	gen.resp = image("IMG2", "from seed")
	msg, err := s.Submit(context.Background(), "use the upload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req := gen.lastRequest(t); req.BaseImage != "SEED" {
		t.Fatalf("expected seed as base image, got %q", req.BaseImage)
	}
	if s.Snapshot().HasSeed {
		t.Fatal("expected seed to be cleared by a successful generation")
	}
	if s.ActiveImage().ID != msg.ID {
		t.Fatal("expected generated image to become active")
	}
}

func TestSeedImage_SurvivesFailedGeneration(t *testing.T) {
	gen := &stubGenerator{err: errors.New("boom")}
	s := newTestSession(gen)

	if err := s.UploadSeed("SEED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Submit(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if a := s.ActiveImage(); a == nil || a.ID != UploadImageID {
		t.Fatalf("expected seed to remain active, got %+v", a)
	}
}

func TestUploadSeed_Empty(t *testing.T) {
	s := newTestSession(&stubGenerator{})
	for _, v := range []string{"", "data:image/png;base64,", "  "} {
		if err := s.UploadSeed(v); !errors.Is(err, ErrEmptySeed) {
			t.Fatalf("seed %q: expected ErrEmptySeed, got %v", v, err)
		}
	}
}

func TestSelectImage(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "one")}
	s := newTestSession(gen)
	first, _ := s.Submit(context.Background(), "one")
	gen.resp = image("IMG2", "two")
	second, _ := s.Submit(context.Background(), "two")

	if s.ActiveImage().ID != second.ID {
		t.Fatal("expected newest image active")
	}

	if err := s.UploadSeed("SEED"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SelectImage(first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a := s.ActiveImage(); a.ID != first.ID || a.ImageBase64 != "IMG1" {
		t.Fatalf("expected first image active, got %+v", a)
	}
	if s.Snapshot().HasSeed {
		t.Fatal("reselection must clear the seed")
	}

	if err := s.SelectImage("intro"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound for a message without image, got %v", err)
	}
	if err := s.SelectImage("missing"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
	if a := s.ActiveImage(); a.ID != first.ID {
		t.Fatal("failed selection must not change the active image")
	}
}

func TestReset(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "one")}
	s := newTestSession(gen)
	s.Submit(context.Background(), "one")
	s.UploadSeed("SEED")

	s.Reset()

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Text != IntroText {
		t.Fatalf("expected greeting only after reset, got %+v", msgs)
	}
	if s.ActiveImage() != nil {
		t.Fatal("expected no active image after reset")
	}
	if len(s.Gallery()) != 0 {
		t.Fatal("expected empty gallery after reset")
	}
}

func TestSetSettings(t *testing.T) {
	gen := &stubGenerator{resp: image("IMG1", "one")}
	s := newTestSession(gen)

	if err := s.SetSettings(Settings{AspectRatio: "5:4"}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if err := s.SetSettings(Settings{ImageSize: "8K"}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}

	if err := s.SetSettings(Settings{AspectRatio: "16:9"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Submit(context.Background(), "wide")
	req := gen.lastRequest(t)
	if req.AspectRatio != "16:9" || req.ImageSize != "" {
		t.Fatalf("expected aspect only, got %q %q", req.AspectRatio, req.ImageSize)
	}
}

func TestNotifier_SeesPendingThenIdle(t *testing.T) {
	n := &recordingNotifier{}
	s := NewSession("n", &stubGenerator{resp: image("IMG", "alt")}, n)

	if _, err := s.Submit(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.states) != 2 || n.states[0] != "pending" || n.states[1] != "idle" {
		t.Fatalf("unexpected notifications %v", n.states)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestSession(&stubGenerator{resp: image("IMG1", "one")})
	s.Submit(context.Background(), "one")

	snap := s.Snapshot()
	if snap.ID != "test" || snap.State != "idle" || len(snap.Messages) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	for i, m := range snap.Messages {
		if m.CreatedAt != 1700000000000 {
			t.Fatalf("message %d: expected epoch millis, got %d", i, m.CreatedAt)
		}
	}
	if snap.ActiveImage == nil || snap.ActiveImage.ImageBase64 != "IMG1" {
		t.Fatalf("expected active image in snapshot, got %+v", snap.ActiveImage)
	}
}

func TestSettings_Validate(t *testing.T) {
	for _, ratio := range AspectRatios {
		for _, size := range ImageSizes {
			if err := (Settings{AspectRatio: ratio, ImageSize: size}).Validate(); err != nil {
				t.Fatalf("%s/%s rejected: %v", ratio, size, err)
			}
		}
	}

	tests := []struct {
		settings Settings
		wantErr  bool
	}{
		{Settings{}, false},
		{Settings{AspectRatio: "1:1"}, false},
		{Settings{ImageSize: "4K"}, false},
		{Settings{AspectRatio: "1:2"}, true},
		{Settings{AspectRatio: "1:1 3:2"}, true},
		{Settings{ImageSize: "1k"}, true},
	}
	for _, tt := range tests {
		err := tt.settings.Validate()
		if tt.wantErr != (err != nil) {
			t.Fatalf("Validate(%+v) = %v, wantErr %v", tt.settings, err, tt.wantErr)
		}
	}
}

func TestNotifier_SeesChangesInOrder(t *testing.T) {
	n := &recordingNotifier{}
	s := NewSession("n", &stubGenerator{resp: image("IMG", "alt")}, n)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				s.UploadSeed("SEED")
			case 1:
				s.ClearSeed()
			case 2:
				s.SetSettings(Settings{AspectRatio: "16:9"})
			default:
				s.Submit(context.Background(), "go")
			}
		}(i)
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.versions) == 0 {
		t.Fatal("expected notifications")
	}
	for i, v := range n.versions {
		if v != uint64(i+1) {
			t.Fatalf("notification %d carried version %d; got %v", i, v, n.versions)
		}
	}
	if last := s.Snapshot().Version; last != n.versions[len(n.versions)-1] {
		t.Fatalf("last notification %d does not match current version %d", n.versions[len(n.versions)-1], last)
	}
}

func TestUpdate_FailedChangeDoesNotNotify(t *testing.T) {
	n := &recordingNotifier{}
	s := NewSession("n", &stubGenerator{}, n)

	if err := s.SelectImage("missing"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
	if err := s.SetSettings(Settings{ImageSize: "8K"}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.versions) != 0 || s.Snapshot().Version != 0 {
		t.Fatalf("rejected changes must not notify, got %v", n.versions)
	}
}
