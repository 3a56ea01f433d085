package qa

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"llmqa-console/internal/model"
)

const DefaultMaxQuestionLength = 500

// ValidateQuestion 校验问题并返回去掉首尾空白后的内容，不做任何网络请求
func ValidateQuestion(question string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxQuestionLength
	}
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return "", newError(KindValidation, "问题内容不能为空")
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", newError(KindValidation, fmt.Sprintf("问题内容不能超过%d个字符", maxLen))
	}
	return trimmed, nil
}

// Normalize 把后端可能返回的几种信封形态统一成 NormalizedResponse。
// 按顺序检查：对象 -> HTTP status -> data -> errno -> 业务数据 -> answer，任一步失败即返回。
func Normalize(v interface{}) (*model.NormalizedResponse, error) {
	resp, ok := v.(map[string]interface{})
	if !ok || resp == nil {
		return nil, newError(KindMalformedResponse, "无效的响应格式")
	}

	if raw, present := resp["status"]; present && raw != nil {
		status, ok := toInt(raw)
		if !ok {
			return nil, newError(KindMalformedResponse, fmt.Sprintf("无效的HTTP状态: %v", raw))
		}
		if status != http.StatusOK {
			text, _ := resp["statusText"].(string)
			return nil, &Error{
				Kind:    KindTransport,
				Status:  status,
				Message: strings.TrimSpace(fmt.Sprintf("HTTP请求失败: %d %s", status, text)),
			}
		}
	}

	errno, hasErrno := toInt(resp["errno"])
	errmsg, _ := resp["errmsg"].(string)

	data, present := resp["data"]
	if !present || data == nil {
		// 失败信封（ResponseUtil.fail）不带 data，错误码仍要原样带回
		if hasErrno && errno != model.ErrnoOK {
			return nil, &Error{Kind: KindServer, Errno: errno, Message: errmsg}
		}
		return nil, newError(KindMalformedResponse, "响应数据格式错误：缺少data字段")
	}

	if !hasErrno {
		if raw, present := resp["errno"]; present && raw != nil {
			return nil, newError(KindMalformedResponse, fmt.Sprintf("响应数据格式错误：errno无效 (%v)", raw))
		}
		return nil, newError(KindMalformedResponse, "响应数据格式错误：缺少errno字段")
	}
	if errno != model.ErrnoOK {
		return nil, &Error{Kind: KindServer, Errno: errno, Message: errmsg}
	}

	payload, ok := data.(map[string]interface{})
	if !ok {
		return nil, newError(KindMalformedResponse, "响应数据格式错误：data不是对象")
	}
	if inner, ok := payload["data"].(map[string]interface{}); ok {
		payload = inner
	}

	answer, _ := payload["answer"].(string)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, newError(KindMalformedResponse, "服务器返回数据格式错误：缺少answer字段")
	}

	out := &model.NormalizedResponse{
		Answer:       answer,
		RelatedItems: []interface{}{},
	}
	for _, key := range []string{"goods", "relatedItems"} {
		if items, ok := payload[key].([]interface{}); ok {
			out.RelatedItems = plainNumbers(items).([]interface{})
			break
		}
	}
	if sid, ok := payload["sessionId"].(string); ok {
		out.SessionID = sid
	}
	if qt, ok := toFloat(payload["queryTime"]); ok {
		out.QueryTimeMs = qt
	}
	if fc, ok := payload["fromCache"].(bool); ok {
		out.FromCache = fc
	}
	return out, nil
}

// toInt 只接受整数值；小数和字符串都不算合法的 errno/status
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
