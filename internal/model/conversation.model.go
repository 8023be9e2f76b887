package model

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// Conversation groups the message history shared by a participant set.
// The thread id is derived deterministically from the normalized address
// set, so renaming a conversation never changes its identity.
type Conversation struct {
	ThreadID      int64  `json:"thread_id"       db:"thread_id"       gorm:"primaryKey;column:thread_id"`
	Addresses     string `json:"addresses"       db:"addresses"       gorm:"column:addresses;not null"` // normalized, comma-joined, sorted
	Title         string `json:"title"           db:"title"           gorm:"column:title"`
	Draft         string `json:"draft"           db:"draft"           gorm:"column:draft"`
	Archived      bool   `json:"archived"        db:"archived"        gorm:"column:archived;default:false"`
	LastMessageID int64  `json:"last_message_id" db:"last_message_id" gorm:"column:last_message_id;default:0"`
	LastMessageAt int64  `json:"last_message_at" db:"last_message_at" gorm:"column:last_message_at;default:0"`
}

func (Conversation) TableName() string { return "conversations" }

// NormalizeAddress strips separators and whitespace from a phone-style
// address. Short codes with letters pass through lowercased so the same
// sender always lands in the same thread.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	var b strings.Builder
	for _, r := range address {
		switch {
		case r >= '0' && r <= '9', r == '+':
			b.WriteRune(r)
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizeAddresses returns the sorted, de-duplicated normalized set.
// Empty results are dropped; an empty return means no usable address.
func NormalizeAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		n := NormalizeAddress(a)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DeriveThreadID maps a participant address set to its stable thread id.
// Returns 0 when no address normalizes to anything usable.
func DeriveThreadID(addresses []string) int64 {
	normalized := NormalizeAddresses(addresses)
	if len(normalized) == 0 {
		return 0
	}
	h := fnv.New64a()
	for i, a := range normalized {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(a))
	}
	id := int64(h.Sum64() & 0x7fffffffffffffff)
	if id == 0 {
		id = 1
	}
	return id
}
