package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentName       string     `json:"agent_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ActorID         string         `json:"actor_id"`
	BuildParams     BuildParams    `json:"build_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type BuildParams struct {
	BatchSize  int     `json:"batch_size"`
	SiteRadius float64 `json:"site_radius"`
	PieceCost  int     `json:"piece_cost"`
}

type CatalogDigests struct {
	BlueprintsDigest string `json:"blueprints_digest"`
	BlueprintCount   int    `json:"blueprint_count"`
}

// ACT (client -> server). One action per message; unused fields are omitted.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Action          string `json:"action"`

	// MOVE
	X float64 `json:"x,omitempty"`
	Z float64 `json:"z,omitempty"`

	// BUILD_START
	Blueprint   string     `json:"blueprint,omitempty"`
	Anchor      [2]float64 `json:"anchor,omitempty"`
	Orientation float64    `json:"orientation,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Result          any    `json:"result,omitempty"`
}

// Result payload for an accepted BUILD_START.
type StartPayload struct {
	PlanID           string   `json:"plan_id"`
	TotalPieces      int      `json:"total_pieces"`
	Phases           []string `json:"phases"`
	EstimatedBatches int      `json:"estimated_batches"`
}

// Result payload for BUILD_CONTINUE and BUILD_STATUS.
type ProgressPayload struct {
	Active    bool   `json:"active"`
	Blueprint string `json:"blueprint,omitempty"`
	Placed    int    `json:"placed"`
	Total     int    `json:"total"`
	Phase     string `json:"phase,omitempty"`
	NextBatch int    `json:"next_batch"`
	Failed    int    `json:"failed"`
	Status    string `json:"status,omitempty"`
}

// Event is a loose map so the sink can attach context without schema churn.
type Event map[string]any
