package domain

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// openStatuses is the set of actionable protocol states. Everything else is terminal.
var openStatuses = map[string]struct{}{
	StatusOpen: {},
}

// IsOpenStatus reports whether a protocol in this status can still be completed.
func IsOpenStatus(status string) bool {
	_, ok := openStatuses[status]
	return ok
}

// OpenStatuses returns the open set, used by SQL filters.
func OpenStatuses() []string {
	out := make([]string, 0, len(openStatuses))
	for s := range openStatuses {
		out = append(out, s)
	}
	return out
}

type User struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Section struct {
	Title     string `json:"title" yaml:"title"`
	Completed int    `json:"completed" yaml:"completed"`
	Total     int    `json:"total" yaml:"total"`
}

type Item struct {
	SectionPath string `json:"sectionPath" yaml:"sectionPath"`
	Name        string `json:"name" yaml:"name"`
	Status      string `json:"status" yaml:"status"`
	Remark      string `json:"remark,omitempty" yaml:"remark,omitempty"`
	Comment     string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

type Protocol struct {
	ID           string    `json:"id" yaml:"id"`
	AssigneeID   string    `json:"assigneeId" yaml:"assigneeId"`
	Status       string    `json:"status" yaml:"status" enum:"open,closed"`
	Title        string    `json:"title" yaml:"title"`
	SiteName     string    `json:"siteName,omitempty" yaml:"siteName,omitempty"`
	TurbineID    string    `json:"turbineId,omitempty" yaml:"turbineId,omitempty"`
	Date         string    `json:"date,omitempty" yaml:"date,omitempty"`
	TemplateName string    `json:"templateName,omitempty" yaml:"templateName,omitempty"`
	Sections     []Section `json:"sections" yaml:"sections"`
	Items        []Item    `json:"items" yaml:"items"`
	CompletedAt  *string   `json:"completedAt" yaml:"completedAt,omitempty" format:"date-time"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (p Protocol) Clone() Protocol {
	out := p
	out.Sections = append([]Section{}, p.Sections...)
	out.Items = append([]Item{}, p.Items...)
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}
