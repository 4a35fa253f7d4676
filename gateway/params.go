package gateway

// registrationParams is the body of starlight.registration (spec §6).
type registrationParams struct {
	Layer        string   `json:"layer"`
	Priority     int      `json:"priority"`
	Capabilities []string `json:"capabilities"`
	Selectors    []string `json:"selectors"`
	AuthToken    string   `json:"authToken"`
	Version      string   `json:"version"`
}

type registrationResult struct {
	AssignedID       string `json:"assignedId"`
	ProtocolVersion  string `json:"protocolVersion"`
	Challenge        string `json:"challenge"`
	HeartbeatInterval int64 `json:"heartbeatInterval"`
}

type challengeResponseParams struct {
	Response string `json:"response"`
}

type challengeResponseResult struct {
	Success bool `json:"success"`
}

type contextUpdateParams struct {
	Context map[string]interface{} `json:"context"`
}

type voteParams struct {
	Confidence   float64 `json:"confidence"`
	RetryAfterMs int64   `json:"retryAfterMs"`
}

type hijackParams struct {
	Reason string `json:"reason"`
}

type hijackResult struct {
	Acquired bool   `json:"acquired"`
	Reason   string `json:"reason,omitempty"`
}

type resumeParams struct {
	ReCheck bool `json:"re_check"`
}

type actionParams struct {
	Cmd      string `json:"cmd"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// intentParams is the body of starlight.intent (spec §3 "Command
// envelope"), sent by the mission client. ID is the client-assigned
// opaque command id echoed back in every pre_check/COMMAND_COMPLETE
// referencing this command (spec §8 scenario S1) and is also the
// idempotency dedupe key for a client reconnect resubmitting the same
// intent.
type intentParams struct {
	ID              string   `json:"id"`
	Cmd             string   `json:"cmd"`
	Selector        string   `json:"selector"`
	Goal            string   `json:"goal"`
	URL             string   `json:"url"`
	Text            string   `json:"text"`
	Key             string   `json:"key"`
	Value           string   `json:"value"`
	Files           []string `json:"files"`
	Name            string   `json:"name"`
	StabilityHintMs int64    `json:"stabilityHint"`
}

type intentResult struct {
	ID string `json:"id"`
}

type finishParams struct {
	Reason string `json:"reason"`
}

type errorParams struct {
	Error string `json:"error"`
	Stack string `json:"stack"`
}

type recordingStatusResult struct {
	Recording bool `json:"recording"`
}
