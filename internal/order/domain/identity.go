package domain

// Identity is the caller as resolved by the edge. The token is forwarded to
// collaborators as-is and never inspected here.
type Identity struct {
	UserID string
	Token  string
}

func (i Identity) Anonymous() bool { return i.UserID == "" }
