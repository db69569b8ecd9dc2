package presence

// StatusOnline is the only status a listed user can have; offline users are
// not listed at all.
const StatusOnline = "online"

// Role is the role a user asserted when joining. It is informational only and
// never used for routing decisions.
type Role string

// Known roles. Any other value is relayed as-is.
const (
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// OnlineUser is a presence snapshot of one registered session.
type OnlineUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole Role   `json:"userRole"`
	Status   string `json:"status"`
}

// Room is a snapshot of a room and its current member ids.
type Room struct {
	ID      string   `json:"roomId"`
	Members []string `json:"members"`
}
