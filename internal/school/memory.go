package school

import (
	"context"
	"sync"

	"leavetrack/internal/leave"
)

// MemoryDirectory is an in-memory Directory for dev mode and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	schools map[string]School
	members map[string]Member
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		schools: make(map[string]School),
		members: make(map[string]Member),
	}
}

// AddSchool registers or replaces a school.
func (d *MemoryDirectory) AddSchool(s School) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schools[s.ID] = s
}

// AddMember registers or replaces a member.
func (d *MemoryDirectory) AddMember(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

func (d *MemoryDirectory) Get(ctx context.Context, schoolID string) (School, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schools[schoolID]
	if !ok {
		return School{}, leave.ErrNotFound
	}
	return s, nil
}

func (d *MemoryDirectory) Member(ctx context.Context, memberID string) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[memberID]
	if !ok {
		return Member{}, leave.ErrNotFound
	}
	return m, nil
}
