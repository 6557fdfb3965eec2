package chat

// User is a display identity resolved by the user directory.
// Conversations and messages reference users by ID only.
type User struct {
	UserID    string
	Name      string
	AvatarURL string
}

// DisplayName returns the user's name, falling back to the user ID.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.UserID
}
