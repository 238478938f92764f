package domain

import "strings"

// RecipientContext is the closed set of merge fields available to
// campaign templates. Substitution is a plain token replace so that
// personalization stays auditable and injection-safe.
type RecipientContext struct {
	FirstName string
	LastName  string
	Company   string
	City      string
	Phone     string
	Email     string
}

// FullName joins first and last name, falling back to whichever is set.
func (c RecipientContext) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Apply substitutes every merge field token in the template.
func (c RecipientContext) Apply(template string) string {
	r := strings.NewReplacer(
		"{first_name}", c.FirstName,
		"{last_name}", c.LastName,
		"{name}", c.FullName(),
		"{company}", c.Company,
		"{city}", c.City,
		"{phone}", c.Phone,
		"{email}", c.Email,
	)
	return r.Replace(template)
}
