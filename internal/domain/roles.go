package domain

import "strings"

// TelegramStatus описывает роль пользователя в канале, хранимую локально.
type TelegramStatus string

const (
	TelegramStatusCreator       TelegramStatus = "creator"
	TelegramStatusAdministrator TelegramStatus = "administrator"
)

// Valid сообщает, допустим ли статус для хранения.
func (s TelegramStatus) Valid() bool {
	return s == TelegramStatusCreator || s == TelegramStatusAdministrator
}

// MemberStatus — статус участника чата на платформе.
type MemberStatus string

const (
	MemberStatusCreator       MemberStatus = "creator"
	MemberStatusAdministrator MemberStatus = "administrator"
	MemberStatusMember        MemberStatus = "member"
	MemberStatusRestricted    MemberStatus = "restricted"
	MemberStatusLeft          MemberStatus = "left"
	MemberStatusKicked        MemberStatus = "kicked"
)

// IsAdmin сообщает, относится ли статус к администрации канала.
func (s MemberStatus) IsAdmin() bool {
	return s == MemberStatusCreator || s == MemberStatusAdministrator
}

// TelegramStatusFromMember переводит статус платформы в локальный. ok=false для не-администраторов.
func TelegramStatusFromMember(status MemberStatus) (TelegramStatus, bool) {
	switch MemberStatus(strings.ToLower(string(status))) {
	case MemberStatusCreator:
		return TelegramStatusCreator, true
	case MemberStatusAdministrator:
		return TelegramStatusAdministrator, true
	default:
		return "", false
	}
}

// Capability — отдельное право администратора.
type Capability string

const (
	CapabilityPostMessages   Capability = "can_post_messages"
	CapabilityEditMessages   Capability = "can_edit_messages"
	CapabilityDeleteMessages Capability = "can_delete_messages"
	CapabilityChangeInfo     Capability = "can_change_info"
	CapabilityInviteUsers    Capability = "can_invite_users"
)

// AllCapabilities перечисляет права в порядке хранения.
var AllCapabilities = []Capability{
	CapabilityPostMessages,
	CapabilityEditMessages,
	CapabilityDeleteMessages,
	CapabilityChangeInfo,
	CapabilityInviteUsers,
}

// ParseCapability разбирает имя права.
func ParseCapability(raw string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllCapabilities {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// CapabilitySet — набор флагов прав.
type CapabilitySet struct {
	PostMessages   bool `json:"can_post_messages"`
	EditMessages   bool `json:"can_edit_messages"`
	DeleteMessages bool `json:"can_delete_messages"`
	ChangeInfo     bool `json:"can_change_info"`
	InviteUsers    bool `json:"can_invite_users"`
}

// FullCapabilities возвращает набор, где разрешено всё.
func FullCapabilities() CapabilitySet {
	return CapabilitySet{
		PostMessages:   true,
		EditMessages:   true,
		DeleteMessages: true,
		ChangeInfo:     true,
		InviteUsers:    true,
	}
}

// Has проверяет отдельное право.
func (c CapabilitySet) Has(capability Capability) bool {
	switch capability {
	case CapabilityPostMessages:
		return c.PostMessages
	case CapabilityEditMessages:
		return c.EditMessages
	case CapabilityDeleteMessages:
		return c.DeleteMessages
	case CapabilityChangeInfo:
		return c.ChangeInfo
	case CapabilityInviteUsers:
		return c.InviteUsers
	default:
		return false
	}
}

// EffectiveCapabilities возвращает фактические права по записи.
// Создатель канала может всё независимо от сохранённых флагов.
func EffectiveCapabilities(record PermissionRecord) CapabilitySet {
	if record.TelegramStatus == TelegramStatusCreator {
		return FullCapabilities()
	}
	return record.Flags()
}
