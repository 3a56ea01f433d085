package model

// AskRequest 问答请求体
type AskRequest struct {
	Question   string `json:"question"`
	SessionID  string `json:"sessionId,omitempty"`
	Context    string `json:"context,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// 控制台 API 请求

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type ConsoleAskRequest struct {
	Question string `json:"question"`
}

type ClearConversationRequest struct {
	NewSession bool `json:"newSession"`
	Remote     bool `json:"remote"`
}

type ViewportRequest struct {
	ScrollHeight float64 `json:"scrollHeight"`
	ScrollTop    float64 `json:"scrollTop"`
	ClientHeight float64 `json:"clientHeight"`
}
