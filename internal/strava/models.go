package strava

// Webhook object and aspect types sent by Strava
const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"

	AspectTypeCreate = "create"
	AspectTypeUpdate = "update"
	AspectTypeDelete = "delete"
)

// WebhookEvent is one push notification from Strava
type WebhookEvent struct {
	ObjectType     string         `json:"object_type"`
	AspectType     string         `json:"aspect_type"`
	ObjectID       int64          `json:"object_id"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"` // unix seconds
	Updates        map[string]any `json:"updates,omitempty"`
}

// IsActivityCreate reports whether the event announces a newly recorded activity
func (e *WebhookEvent) IsActivityCreate() bool {
	return e.ObjectType == ObjectTypeActivity && e.AspectType == AspectTypeCreate
}

// Channel is a Strava stream key
type Channel string

const (
	ChannelTime        Channel = "time"
	ChannelDistance    Channel = "distance"
	ChannelAltitude    Channel = "altitude"
	ChannelSpeed       Channel = "velocity_smooth"
	ChannelPower       Channel = "watts"
	ChannelHeartrate   Channel = "heartrate"
	ChannelCadence     Channel = "cadence"
	ChannelGrade       Channel = "grade_smooth"
	ChannelTemperature Channel = "temp"
)

// DefaultChannels is every numeric channel we ingest, in table column order
var DefaultChannels = []Channel{
	ChannelTime,
	ChannelDistance,
	ChannelAltitude,
	ChannelSpeed,
	ChannelPower,
	ChannelHeartrate,
	ChannelCadence,
	ChannelGrade,
	ChannelTemperature,
}

// StreamData represents a single stream type
// Strava returns streams keyed by type when key_by_type=true
type StreamData[T any] struct {
	Data         []T    `json:"data"`
	SeriesType   string `json:"series_type"`
	OriginalSize int    `json:"original_size"`
	Resolution   string `json:"resolution"`
}

// StreamBundle maps each returned channel to its samples.
// A nil sample is a gap reported by Strava, not a zero reading.
type StreamBundle map[Channel][]*float64

// Len returns the length of the longest channel
func (b StreamBundle) Len() int {
	n := 0
	for _, samples := range b {
		if len(samples) > n {
			n = len(samples)
		}
	}
	return n
}

// Carries reports whether the channel has at least one non-nil sample
func (b StreamBundle) Carries(ch Channel) bool {
	for _, v := range b[ch] {
		if v != nil {
			return true
		}
	}
	return false
}

// HasData returns true if at least one channel carries a real sample
func (b StreamBundle) HasData() bool {
	for ch := range b {
		if b.Carries(ch) {
			return true
		}
	}
	return false
}

// ProviderResponse is a Strava response passed through unchanged
type ProviderResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *ProviderResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
