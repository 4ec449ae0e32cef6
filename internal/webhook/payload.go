package webhook

import (
	"fmt"

	"pwdemo/internal/domain"
)

const EventProtocolCompleted = "protocol_completed"

// Payload is the body POSTed to the webhook URL when a protocol is closed.
type Payload struct {
	Event           string          `json:"event" example:"protocol_completed"`
	ProtocolID      string          `json:"protocolId"`
	ProtocolTitle   string          `json:"protocolTitle"`
	UserID          string          `json:"userId"`
	UserName        string          `json:"userName"`
	RemainingCount  int             `json:"remainingCount"`
	AllDone         bool            `json:"allDone"`
	CompletedAt     string          `json:"completedAt" format:"date-time"`
	ProtocolDetails ProtocolDetails `json:"protocolDetails"`
}

type ProtocolDetails struct {
	SiteName     *string          `json:"siteName"`
	TurbineID    *string          `json:"turbineId"`
	Date         *string          `json:"date"`
	TemplateName *string          `json:"templateName"`
	Sections     []SectionSummary `json:"sections"`
	Items        []ItemSummary    `json:"items"`
}

type SectionSummary struct {
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Progress  string `json:"progress" example:"3 / 4"`
}

type ItemSummary struct {
	SectionPath string `json:"sectionPath"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Remark      string `json:"remark"`
	Comment     string `json:"comment"`
}

// BuildPayload assembles the completion notification. It has no side effects;
// assignee may be nil when the user record is missing, in which case the
// assignee id stands in for the name.
func BuildPayload(p domain.Protocol, assignee *domain.User, remaining int) Payload {
	userName := p.AssigneeID
	if assignee != nil {
		userName = assignee.Name
	}
	completedAt := ""
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}
	sections := make([]SectionSummary, 0, len(p.Sections))
	for _, s := range p.Sections {
		sections = append(sections, SectionSummary{
			Title:     s.Title,
			Completed: s.Completed,
			Total:     s.Total,
			Progress:  fmt.Sprintf("%d / %d", s.Completed, s.Total),
		})
	}
	items := make([]ItemSummary, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, ItemSummary{
			SectionPath: it.SectionPath,
			Name:        it.Name,
			Status:      it.Status,
			Remark:      it.Remark,
			Comment:     it.Comment,
		})
	}
	return Payload{
		Event:          EventProtocolCompleted,
		ProtocolID:     p.ID,
		ProtocolTitle:  p.Title,
		UserID:         p.AssigneeID,
		UserName:       userName,
		RemainingCount: remaining,
		AllDone:        remaining == 0,
		CompletedAt:    completedAt,
		ProtocolDetails: ProtocolDetails{
			SiteName:     optional(p.SiteName),
			TurbineID:    optional(p.TurbineID),
			Date:         optional(p.Date),
			TemplateName: optional(p.TemplateName),
			Sections:     sections,
			Items:        items,
		},
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
