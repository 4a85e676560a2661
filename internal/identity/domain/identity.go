package domain

// Identity is a panel account with its primary credential.
type Identity struct {
	Username     string
	Provider     IdentityProvider
	PasswordHash string // bcrypt
}

type IdentityProvider string

const (
	IdentityProviderLocal IdentityProvider = "local"
)
