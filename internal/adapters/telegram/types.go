package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgeasy/internal/domain"
)

// chatMember повторяет ChatMember из Bot API, но флаги прав хранит указателями,
// чтобы отличать false от отсутствующего поля.
type chatMember struct {
	User              *tgbotapi.User `json:"user"`
	Status            string         `json:"status"`
	CanPostMessages   *bool          `json:"can_post_messages,omitempty"`
	CanEditMessages   *bool          `json:"can_edit_messages,omitempty"`
	CanDeleteMessages *bool          `json:"can_delete_messages,omitempty"`
	CanChangeInfo     *bool          `json:"can_change_info,omitempty"`
	CanInviteUsers    *bool          `json:"can_invite_users,omitempty"`
}

func (m chatMember) toDomain() domain.ChatMember {
	member := domain.ChatMember{
		Status: domain.MemberStatus(m.Status),
		Capabilities: domain.CapabilitySet{
			PostMessages:   flag(m.CanPostMessages),
			EditMessages:   flag(m.CanEditMessages),
			DeleteMessages: flag(m.CanDeleteMessages),
			ChangeInfo:     flag(m.CanChangeInfo),
			InviteUsers:    flag(m.CanInviteUsers),
		},
	}
	if m.User != nil {
		member.UserID = m.User.ID
		member.Username = m.User.UserName
		member.IsBot = m.User.IsBot
	}
	// can_post_messages и can_edit_messages бывают только у каналов,
	// остальные три Bot API отдаёт любому администратору.
	if member.Status == domain.MemberStatusAdministrator {
		member.Partial = m.CanDeleteMessages == nil || m.CanChangeInfo == nil || m.CanInviteUsers == nil
	}
	return member
}

func flag(v *bool) bool {
	return v != nil && *v
}
