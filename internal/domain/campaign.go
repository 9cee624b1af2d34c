package domain

import (
	"strings"
	"unicode"
)

// Campaign is the read-mostly snapshot of an outbound calling campaign.
type Campaign struct {
	ID       string
	Name     string
	GroupIDs []string
	AgentIDs []string
	IsActive bool
	Contacts []Contact
}

// Contact is a dialable person. Phone is the only required field.
type Contact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Group is a named set of contacts attached to a campaign.
type Group struct {
	ID           string
	Name         string
	ContactCount int
}

// Agent is the voice agent that places calls on behalf of a campaign.
type Agent struct {
	ID   string
	Name string
}

// DedupKey returns the normalized (phone, name) pair used to keep a contact
// from being dialed twice within a run.
func (c Contact) DedupKey() string {
	return NormalizePhone(c.Phone) + "|" + NormalizeName(c.Name)
}

// NormalizePhone strips formatting characters, keeping digits and a
// leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	b.Grow(len(phone))
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// UniqueContacts drops later contacts whose dedup key was already seen,
// keeping the first occurrence and the original order.
func UniqueContacts(contacts []Contact) []Contact {
	seen := make(map[string]struct{}, len(contacts))
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		key := c.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
