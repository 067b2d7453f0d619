package types

// User is the identity reported by the auth collaborator.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Credential is an email/password pair for sign-up and sign-in.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
