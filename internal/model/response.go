package model

import "time"

// Envelope 后端所有响应的外层结构，errno == 0 表示成功
type Envelope struct {
	Errno  int         `json:"errno"`
	Errmsg string      `json:"errmsg"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	ErrnoOK          = 0
	ErrnoBadArgument = 401
	ErrnoNotFound    = 404
	ErrnoServer      = 502
)

func OK(data interface{}) Envelope {
	return Envelope{Errno: ErrnoOK, Errmsg: "成功", Data: data}
}

func Fail(errno int, errmsg string) Envelope {
	return Envelope{Errno: errno, Errmsg: errmsg}
}

// AskReply 开发后端 /ask 的业务数据
type AskReply struct {
	Answer    string        `json:"answer"`
	Goods     []interface{} `json:"goods"`
	SessionID string        `json:"sessionId"`
	QueryTime int64         `json:"queryTime"`
	FromCache bool          `json:"fromCache"`
}

type ConversationResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SessionID    string    `json:"sessionId"`
	HistoryCount int       `json:"historyCount"`
	MessageCount int       `json:"messageCount"`
	Pending      string    `json:"pendingQuestion,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
