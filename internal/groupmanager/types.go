package groupmanager

import (
	nostr "github.com/nbd-wtf/go-nostr"
)

// GroupType distinguishes a two-party conversation from a general group,
// fixed at creation time and never recomputed on membership change.
type GroupType string

const (
	DirectMessage GroupType = "direct_message"
	GroupChat     GroupType = "group"
)

// GroupData carries the fields supplied by the caller of Add: everything
// about a group that the MLS Engine, not the manager, is authoritative
// for producing.
type GroupData struct {
	NostrGroupID string
	Name         string
	Description  string
	Admins       []string
	Members      []string
	RelayURLs    []string
}

// Group is an immutable snapshot of a known group's catalog entry.
// Callers receive copies; mutation only happens through Manager methods.
type Group struct {
	MLSGroupID   []byte
	NostrGroupID string
	Epoch        uint64
	GroupType    GroupType
	Name         string
	Description  string
	Admins       []string
	Members      []string
	RelayURLs    []string
	Transcript   []nostr.Event
}

func (g Group) clone() Group {
	out := g
	out.MLSGroupID = append([]byte(nil), g.MLSGroupID...)
	out.Admins = append([]string(nil), g.Admins...)
	out.Members = append([]string(nil), g.Members...)
	out.RelayURLs = append([]string(nil), g.RelayURLs...)
	out.Transcript = append([]nostr.Event(nil), g.Transcript...)
	return out
}
