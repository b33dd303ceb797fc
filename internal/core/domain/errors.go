package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already registered")
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupExists     = errors.New("group already exists")
	ErrGroupDisbanded  = errors.New("group disbanded")
	ErrAlreadyMember   = errors.New("host already a member of the group")
	ErrAlreadyInGroup  = errors.New("session already belongs to another group")
	ErrNotMember       = errors.New("host is not a member of the group")
	ErrSelfPair        = errors.New("a pair needs two distinct hosts")
	ErrPoolNotRunning  = errors.New("relay socket pool not running")
	ErrPoolEmpty       = errors.New("relay socket pool has no sockets")
)
