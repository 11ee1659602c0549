package models

// ChatMessage is the wire form of a conversation turn. CreatedAt is in epoch milliseconds.
type ChatMessage struct {
	ID          string   `json:"id"`
	Role        ChatRole `json:"role"`
	Text        string   `json:"text,omitempty"`
	ImageBase64 string   `json:"imageBase64,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
}

type ActiveImage struct {
	ID          string `json:"id"`
	ImageBase64 string `json:"imageBase64"`
}

type SessionSettings struct {
	AspectRatio string `json:"aspectRatio"`
	ImageSize   string `json:"imageSize"`
}

type SessionSnapshot struct {
	ID          string          `json:"id"`
	Messages    []ChatMessage   `json:"messages"`
	ActiveImage *ActiveImage    `json:"activeImage,omitempty"`
	HasSeed     bool            `json:"hasSeed"`
	Settings    SessionSettings `json:"settings"`
	State       string          `json:"state"` // "idle" | "pending" | "error"
	Error       string          `json:"error,omitempty"`
	// Version increases with every change; clients drop snapshots older than one they have.
	Version     uint64          `json:"version"`
}

type SubmitPromptRequest struct {
	Prompt string `json:"prompt"`
}

type SelectImageRequest struct {
	ImageID string `json:"imageId"`
}

type UploadSeedRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
