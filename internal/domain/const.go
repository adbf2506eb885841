package domain

// Origin tells where an identity mapping came from.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginLocal
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "local":
		*o = OriginLocal
	case "remote":
		*o = OriginRemote
	default:
		*o = OriginUnknown
	}
	return nil
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

type RequestDirection string

const (
	DirectionOutgoing RequestDirection = "outgoing"
	DirectionIncoming RequestDirection = "incoming"
)

// DisclosureState is the per-message hold-to-reveal state.
type DisclosureState int

const (
	Hidden DisclosureState = iota
	Holding
	Revealed
	AutoBlurring
)

func (s DisclosureState) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Holding:
		return "holding"
	case Revealed:
		return "revealed"
	case AutoBlurring:
		return "auto_blurring"
	default:
		return "error"
	}
}

func (s DisclosureState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KV keys used by the durable cache.
const (
	KeyIdentityMap      = "identity_map"
	KeyIdentityMapFresh = "identity_map.refreshed_at"
	KeyRegistry         = "registry"
	KeyNicknames        = "nicknames"
	KeyContactRequests  = "contact_requests"
)

type ctxKey string

// RequesterIdCtxKey holds the identity proven by the request's token.
const RequesterIdCtxKey ctxKey = "requesterId"

// TokenHandleCtxKey holds the handle the request's token is scoped to.
const TokenHandleCtxKey ctxKey = "tokenHandle"
