package model

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageError     MessageType = "error"
	MessageSystem    MessageType = "system"
)

// Roles 展示用角色名
var Roles = map[MessageType]string{
	MessageUser:      "用户",
	MessageAssistant: "AI助手",
	MessageError:     "系统",
	MessageSystem:    "系统",
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageAssistant, MessageError, MessageSystem:
		return true
	}
	return false
}

// Turn 一问一答，追加后不再修改
type Turn struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"` // 毫秒
}

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // 毫秒
	IsError   bool        `json:"isError"`
}

// NormalizedResponse 无论后端返回哪种信封形态，客户端都归一成这个结构
type NormalizedResponse struct {
	Answer       string        `json:"answer"`
	RelatedItems []interface{} `json:"relatedItems"`
	SessionID    string        `json:"sessionId,omitempty"`
	QueryTimeMs  float64       `json:"queryTimeMs"`
	FromCache    bool          `json:"fromCache"`
}
