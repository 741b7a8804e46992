package models

import (
	"strings"
	"time"
)

// AdminLevel 管理员级别
type AdminLevel string

const (
	AdminLevelNone  AdminLevel = "none"
	AdminLevelAdmin AdminLevel = "admin"
	AdminLevelSuper AdminLevel = "super_admin"
)

// ParseAdminLevel 解析级别字符串，未知值返回 false
func ParseAdminLevel(s string) (AdminLevel, bool) {
	switch AdminLevel(strings.ToLower(strings.TrimSpace(s))) {
	case AdminLevelAdmin:
		return AdminLevelAdmin, true
	case AdminLevelSuper:
		return AdminLevelSuper, true
	}
	return AdminLevelNone, false
}

// AdminStatus 软删除状态
type AdminStatus int

const (
	AdminActive AdminStatus = iota
	AdminInactive
)

// String 返回状态名称
func (s AdminStatus) String() string {
	if s == AdminActive {
		return "active"
	}
	return "inactive"
}

// AdminCode 管理员访问码
type AdminCode struct {
	Code      string      `json:"code"`
	Level     AdminLevel  `json:"level"`
	AddedBy   string      `json:"added_by"`
	CreatedAt time.Time   `json:"created_at"`
	Status    AdminStatus `json:"-"`
	RemovedBy string      `json:"removed_by,omitempty"`
	RemovedAt *time.Time  `json:"removed_at,omitempty"`
}

// Active 是否有效
func (a AdminCode) Active() bool {
	return a.Status == AdminActive
}
