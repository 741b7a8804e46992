package models

import (
	"time"
)

// Consent 数据使用授权状态
type Consent int

const (
	// ConsentUndecided 用户尚未选择
	ConsentUndecided Consent = iota
	// ConsentGiven 用户同意
	ConsentGiven
	// ConsentDeclined 用户拒绝
	ConsentDeclined
)

// String 返回状态名称
func (c Consent) String() string {
	switch c {
	case ConsentGiven:
		return "consented"
	case ConsentDeclined:
		return "declined"
	default:
		return "undecided"
	}
}

// Decided 是否已做出选择
func (c Consent) Decided() bool {
	return c == ConsentGiven || c == ConsentDeclined
}

// Bool 转换为存储格式：nil 表示未选择
func (c Consent) Bool() *bool {
	switch c {
	case ConsentGiven:
		v := true
		return &v
	case ConsentDeclined:
		v := false
		return &v
	default:
		return nil
	}
}

// ConsentFromBool 从存储格式还原
func ConsentFromBool(v *bool) Consent {
	if v == nil {
		return ConsentUndecided
	}
	if *v {
		return ConsentGiven
	}
	return ConsentDeclined
}

// MarshalJSON 以 true/false/null 序列化
func (c Consent) MarshalJSON() ([]byte, error) {
	switch c {
	case ConsentGiven:
		return []byte("true"), nil
	case ConsentDeclined:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 解析 true/false/null
func (c *Consent) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*c = ConsentGiven
	case "false":
		*c = ConsentDeclined
	default:
		*c = ConsentUndecided
	}
	return nil
}

// User 访问码用户
type User struct {
	Code           string    `json:"code"`
	DataUseConsent Consent   `json:"data_use_consent"`
	CreatedAt      time.Time `json:"created_at"`
	LastLogin      time.Time `json:"last_login"`
}

// ConsentBreakdown 授权状态统计
type ConsentBreakdown struct {
	Given    int64 `json:"consent_given"`
	Declined int64 `json:"consent_denied"`
	Pending  int64 `json:"consent_pending"`
}
