package task

import "time"

// ActivityEvent is channel activity seen by the platform adapter: a message
// in a followed channel or a mention of the agent.
type ActivityEvent struct {
	CardID    string
	CardTitle string
	Content   string
	Person    string
}

// DirectMessageEvent is a direct message addressed to the agent.
type DirectMessageEvent struct {
	CardID    string
	CardTitle string
	Content   string
}

// PresenceEvent reports a person's online/offline transition.
type PresenceEvent struct {
	Person string
	Online bool
}

// PeriodicTick drives cron evaluation and the ledger's daily reset.
type PeriodicTick struct {
	Now time.Time
}
