package core

import "time"

// RedirectAssertion binds the delegated identity to the application and
// version the user actually granted, plus the method they authenticated
// with. It is constructed fresh per redirect and never persisted; the short
// expiry is the replay defence.
type RedirectAssertion struct {
	AgentAddress string     // address of the agent key acting for the user
	AgentKeyID   string     // registry token id of the agent key
	AppID        uint64     // application the grant was made for
	AppVersion   uint64     // exact version granted
	Method       AuthMethod // how the user authenticated
	Audience     []string   // the app's full registered redirect URI set
	IssuedAt     time.Time
	ExpiresAt    time.Time
}
