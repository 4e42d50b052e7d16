package chatsync

import (
	"slices"
	"strings"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

// Timeline is a message sequence kept in ascending (CreatedAt, ID, TempID)
// order. Every insert and replace goes through the same ordered insert, so
// the sequence never needs an explicit re-sort.
type Timeline struct {
	items []models.Message
}

func compareMessages(a, b models.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return strings.Compare(a.TempID, b.TempID)
}

// matches reports whether entry is the message identified by id, or the
// still-pending optimistic message identified by tempID.
func matches(entry models.Message, id int64, tempID string) bool {
	if id != 0 && entry.ID == id {
		return true
	}
	return tempID != "" && entry.ID == 0 && entry.TempID == tempID
}

func (t *Timeline) Len() int {
	return len(t.items)
}

// Messages returns a copy of the sequence.
func (t *Timeline) Messages() []models.Message {
	return slices.Clone(t.items)
}

func (t *Timeline) At(i int) models.Message {
	return t.items[i]
}

// Insert places message at its sorted position.
func (t *Timeline) Insert(message models.Message) {
	i, _ := slices.BinarySearchFunc(t.items, message, compareMessages)
	t.items = slices.Insert(t.items, i, message)
}

// Find returns the index of the first entry matching id or tempID, or -1.
func (t *Timeline) Find(id int64, tempID string) int {
	return slices.IndexFunc(t.items, func(entry models.Message) bool {
		return matches(entry, id, tempID)
	})
}

// Replace swaps the entry at i for message and moves it to its sorted
// position.
func (t *Timeline) Replace(i int, message models.Message) {
	t.RemoveAt(i)
	t.Insert(message)
}

func (t *Timeline) RemoveAt(i int) models.Message {
	removed := t.items[i]
	t.items = slices.Delete(t.items, i, i+1)
	return removed
}

// RemoveMatching deletes every entry matching id or tempID and returns how
// many were removed.
func (t *Timeline) RemoveMatching(id int64, tempID string) int {
	before := len(t.items)
	t.items = slices.DeleteFunc(t.items, func(entry models.Message) bool {
		return matches(entry, id, tempID)
	})
	return before - len(t.items)
}

// Drain empties the timeline and returns its former contents.
func (t *Timeline) Drain() []models.Message {
	drained := t.items
	t.items = nil
	return drained
}

// OldestID returns the smallest server-assigned id in the timeline, or 0.
func (t *Timeline) OldestID() int64 {
	var oldest int64
	for _, message := range t.items {
		if message.ID != 0 && (oldest == 0 || message.ID < oldest) {
			oldest = message.ID
		}
	}
	return oldest
}
