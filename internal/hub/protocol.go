package hub

// OutputMessage carries batched terminal output from one session.
type OutputMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
	Ts      int64  `json:"ts"`
}

// SessionMessage announces a session lifecycle change: started,
// restarted or closed.
type SessionMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Event   string `json:"event"`
	Ts      int64  `json:"ts"`
}

// JobMessage announces a background job lifecycle change. ExitCode
// is present only for terminal events.
type JobMessage struct {
	Type     string `json:"type"`
	Pid      int    `json:"pid"`
	Event    string `json:"event"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Ts       int64  `json:"ts"`
}

// SessionsMessage lists the live session names, sent to every client
// on connect and whenever the set changes.
type SessionsMessage struct {
	Type string   `json:"type"`
	List []string `json:"list"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is the only inbound shape. Attached clients are
// observers; the sole verb they have is subscribe.
type ClientMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
}

type hubBroadcast struct {
	data    []byte
	session string
}
